package ustoreerr

import (
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
)

func TestErrorIs(t *testing.T) {
	err := NotFoundf("collection %d absent", 7)
	if !errors.Is(err, ErrUstore) {
		t.Fatalf("expected errors.Is to match ErrUstore sentinel")
	}
	var target *Error
	if !errors.As(err, &target) {
		t.Fatalf("expected errors.As to unwrap to *Error")
	}
	if target.Code != NotFound {
		t.Fatalf("expected NotFound code, got %s", target.Code)
	}
}

func TestGRPCCodeMapping(t *testing.T) {
	cases := map[Code]codes.Code{
		InvalidArgument:   codes.InvalidArgument,
		NotFound:          codes.NotFound,
		Conflict:          codes.Aborted,
		CapacityExhausted: codes.ResourceExhausted,
		EngineFailure:     codes.Internal,
		NotImplemented:    codes.Unimplemented,
		Internal:          codes.Internal,
	}
	for code, want := range cases {
		if got := code.GRPCCode(); got != want {
			t.Errorf("Code(%s).GRPCCode() = %v, want %v", code, got, want)
		}
	}
}

func TestAsUstoreErrorWrapsUnknown(t *testing.T) {
	plain := errors.New("boom")
	wrapped := AsUstoreError(plain)
	if wrapped.Code != Internal {
		t.Fatalf("expected unknown error to be wrapped as Internal, got %s", wrapped.Code)
	}
	if AsUstoreError(nil) != nil {
		t.Fatalf("expected nil in, nil out")
	}
}
