package validators

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	pkgerrors "github.com/angelmondragon/cartreserve-backend/pkg/errors"
)

type quantityBody struct {
	Quantity int `json:"quantity" validate:"min=0,max=999"`
}

func TestDecodeJSONBodyReportsFieldErrors(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"quantity":1000}`))
	var body quantityBody
	err := DecodeJSONBody(req, &body)
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	details, ok := pkgerrors.As(err).Details().(map[string]string)
	if !ok || details["quantity"] != "must be at most 999" {
		t.Fatalf("unexpected details %#v", pkgerrors.As(err).Details())
	}
}

func TestDecodeJSONBodyRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"quantity":1,"price":5}`))
	var body quantityBody
	if err := DecodeJSONBody(req, &body); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDecodeJSONBodyRejectsEmptyAndTrailingInput(t *testing.T) {
	for _, raw := range []string{"", "   ", `{"quantity":1}{"quantity":2}`, `{"quantity":`} {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(raw))
		var body quantityBody
		if err := DecodeJSONBody(req, &body); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
			t.Fatalf("%q: expected validation error, got %v", raw, err)
		}
	}
}

func TestDecodeJSONBodyNamesMistypedField(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"quantity":"two"}`))
	var body quantityBody
	err := DecodeJSONBody(req, &body)
	details, ok := pkgerrors.As(err).Details().(map[string]string)
	if !ok || details["quantity"] != "must be int" {
		t.Fatalf("unexpected details %#v", pkgerrors.As(err).Details())
	}
}

func TestDecodeJSONBodyCapsSize(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"quantity":1,"pad":"`+strings.Repeat("x", maxBodyBytes)+`"}`))
	var body quantityBody
	err := DecodeJSONBody(req, &body)
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) || !strings.Contains(err.Error(), "too large") {
		t.Fatalf("expected size rejection, got %v", err)
	}
}

func TestParseUUIDParam(t *testing.T) {
	withParam := func(value string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rc := chi.NewRouteContext()
		rc.URLParams.Add("cartId", value)
		return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
	}

	if _, err := ParseUUIDParam(withParam("8b0a4f7e-1f7c-4e4a-9d6b-0c2c5d1c9f10"), "cartId"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ParseUUIDParam(withParam("nope"), "cartId"); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestParseQueryHelpers(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=500&lowStock=yes", nil)
	if _, err := ParseQueryInt(req, "limit", 25, 1, 100); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected out of range error, got %v", err)
	}
	if _, err := ParseQueryBool(req, "lowStock", false); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected boolean error, got %v", err)
	}
	ok, err := ParseQueryBool(httptest.NewRequest(http.MethodGet, "/", nil), "lowStock", true)
	if err != nil || !ok {
		t.Fatalf("expected default true, got %v %v", ok, err)
	}
}
