package provider

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Class
	}{
		{"transient wrapper", Transientf("trunk busy"), ClassTransient},
		{"permanent wrapper", Permanentf("bad agent"), ClassPermanent},
		{"wrapped transient", fmt.Errorf("initiate: %w", Transient(errors.New("x"))), ClassTransient},
		{"wrapped permanent", fmt.Errorf("initiate: %w", Permanent(errors.New("x"))), ClassPermanent},
		{"context canceled", context.Canceled, ClassCanceled},
		{"deadline exceeded", context.DeadlineExceeded, ClassTransient},
		{"http 500", &HTTPError{Status: 500}, ClassTransient},
		{"http 429", &HTTPError{Status: 429}, ClassTransient},
		{"http 408", &HTTPError{Status: 408}, ClassTransient},
		{"http 404", &HTTPError{Status: 404}, ClassPermanent},
		{"http 401", &HTTPError{Status: 401}, ClassPermanent},
		{"conn refused", syscall.ECONNREFUSED, ClassTransient},
		{"conn reset", fmt.Errorf("write: %w", syscall.ECONNRESET), ClassTransient},
		{"unrecognized", errors.New("something odd"), ClassTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got != tc.want {
				t.Fatalf("Classify(%v) = %s, want %s", tc.err, got, tc.want)
			}
		})
	}
}

func TestClassify_ExplicitWrapperWinsOverHTTPStatus(t *testing.T) {
	// An adapter can override the status-based default.
	err := Permanent(&HTTPError{Status: 500, Body: "invalid destination"})
	if got := Classify(err); got != ClassPermanent {
		t.Fatalf("Classify = %s, want permanent", got)
	}
}

func TestHTTPError_Message(t *testing.T) {
	e := &HTTPError{Status: 422, Body: "unknown voice"}
	if e.Error() != "provider returned 422: unknown voice" {
		t.Fatalf("Error() = %q", e.Error())
	}
	bare := &HTTPError{Status: 503}
	if bare.Error() != "provider returned 503" {
		t.Fatalf("Error() = %q", bare.Error())
	}
}

func TestWrappersPassNil(t *testing.T) {
	if Transient(nil) != nil || Permanent(nil) != nil {
		t.Fatalf("wrapping nil must stay nil")
	}
}
