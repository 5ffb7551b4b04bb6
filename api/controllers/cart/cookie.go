package cart

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

// GuestCookie carries a guest cart id between requests for browser clients. API clients may
// ignore it and address the cart by id.
type GuestCookie struct {
	Name   string
	MaxAge time.Duration
	Secure bool
}

func (c GuestCookie) enabled() bool { return c.Name != "" }

func (c GuestCookie) set(w http.ResponseWriter, cartID uuid.UUID) {
	if !c.enabled() {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    cartID.String(),
		Path:     "/",
		MaxAge:   int(c.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (c GuestCookie) clear(w http.ResponseWriter) {
	if !c.enabled() {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (c GuestCookie) read(r *http.Request) (uuid.UUID, bool) {
	if !c.enabled() {
		return uuid.Nil, false
	}
	cookie, err := r.Cookie(c.Name)
	if err != nil {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(cookie.Value)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
