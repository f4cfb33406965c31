package channel

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsAuthFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"status 401", &StatusError{Status: 401}, true},
		{"status 401 wrapped", fmt.Errorf("dial: %w", &StatusError{Status: 401, Message: "bad handshake"}), true},
		{"status 500", &StatusError{Status: 500, Message: "boom"}, false},
		{"unauthorized token", errors.New("websocket: close 1008 Unauthorized"), true},
		{"authentication token", errors.New("Authentication failed for user"), true},
		{"401 in message", errors.New("unexpected HTTP response: 401"), true},
		{"network timeout", errors.New("network timeout"), false},
		{"plain close", errors.New("websocket: close 1006 (abnormal closure)"), false},
		{"forbidden is not auth", &StatusError{Status: 403, Message: "no access to resource"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsAuthFailure(tt.err))
		})
	}
}
