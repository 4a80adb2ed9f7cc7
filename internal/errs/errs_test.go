package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindOf(t *testing.T) {
	err := E(KindConflict, "already marked")
	if KindOf(err) != KindConflict {
		t.Fatalf("kind = %v", KindOf(err))
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Fatal("untagged errors are unknown")
	}
}

func TestKindSurvivesWrapping(t *testing.T) {
	inner := E(KindNotFound, "user not found")
	outer := fmt.Errorf("loading profile: %w", inner)
	if KindOf(outer) != KindNotFound {
		t.Fatalf("kind = %v, want not found through the chain", KindOf(outer))
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindSystem, "db query failed", cause)
	if !errors.Is(err, cause) {
		t.Fatal("wrapped cause must be reachable")
	}
	if err.Error() != "db query failed: connection refused" {
		t.Fatalf("message = %q", err.Error())
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{KindValidation, http.StatusBadRequest},
		{KindNotFound, http.StatusNotFound},
		{KindConflict, http.StatusConflict},
		{KindAuthorization, http.StatusForbidden},
		{KindAuthentication, http.StatusUnauthorized},
		{KindCrypto, http.StatusInternalServerError},
		{KindSystem, http.StatusInternalServerError},
		{KindUnknown, http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := HTTPStatus(E(c.kind, "x")); got != c.want {
			t.Fatalf("status for %v = %d, want %d", c.kind, got, c.want)
		}
	}
}
