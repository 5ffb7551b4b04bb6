package metrics

const namespace = "cartreserve"
