package errs

import "testing"

func TestStatusOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 200},
		{"bad request", ErrBadRequest.WithDetail("missing connection id"), CodeBadRequest},
		{"unauthorized", ErrUnauthorized.WrapMsg("token expired"), CodeUnauthorized},
		{"registry unavailable", ErrRegistryUnavailable.WrapMsg("redis down"), CodeInternal},
		{"connection not found", ErrConnectionNotFound.WithDetail("c1"), CodeInternal},
		{"target gone", ErrTargetGone.WithDetail("c1"), CodeInternal},
		{"internal", ErrInternal, CodeInternal},
		{"uncoded", New("boom"), CodeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := StatusOf(tc.err); got != tc.want {
				t.Fatalf("StatusOf(%v) = %d, want %d", tc.err, got, tc.want)
			}
		})
	}
}
