package fsm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "procurement.io/orchestrator/internal/pkg/errors"
)

type light string
type action string

const (
	red    light = "RED"
	green  light = "GREEN"
	yellow light = "YELLOW"
	off    light = "OFF"

	goAction   action = "go"
	slowAction action = "slow"
	stopAction action = "stop"
	holdAction action = "hold"
	killAction action = "kill"
)

type lightCtx struct {
	powered bool
	reason  error
}

func newLightMachine(t *testing.T) *Machine[light, action, lightCtx] {
	t.Helper()
	m, err := New("traffic_light",
		Transition[light, action, lightCtx]{Name: goAction, From: []light{red}, To: green, Guard: func(c lightCtx) error {
			if !c.powered {
				return errors.New("no power")
			}
			return nil
		}},
		Transition[light, action, lightCtx]{Name: slowAction, From: []light{green}, To: yellow},
		Transition[light, action, lightCtx]{Name: stopAction, From: []light{yellow}, To: red},
		Transition[light, action, lightCtx]{Name: holdAction, From: []light{red, green}, To: red, Guard: func(c lightCtx) error {
			return c.reason
		}},
		Transition[light, action, lightCtx]{Name: killAction, From: []light{red, green, yellow}, To: off},
	)
	require.NoError(t, err)
	return m
}

func TestApply(t *testing.T) {
	m := newLightMachine(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		current  light
		action   action
		guardCtx lightCtx
		want     light
		wantCode string
	}{
		{"guard passes", red, goAction, lightCtx{powered: true}, green, ""},
		{"guard fails", red, goAction, lightCtx{}, red, apperrors.CodeGuardRejected},
		{"no guard", green, slowAction, lightCtx{}, yellow, ""},
		{"undefined from state", green, stopAction, lightCtx{}, green, apperrors.CodeInvalidTransition},
		{"unknown transition", red, action("fly"), lightCtx{}, red, apperrors.CodeInvalidTransition},
		{"terminal state", off, killAction, lightCtx{}, off, apperrors.CodeInvalidTransition},
		{"self transition", red, holdAction, lightCtx{}, red, ""},
		{"self transition guarded", red, holdAction, lightCtx{reason: apperrors.Forbidden("nope")}, red, apperrors.CodeForbidden},
		{"multi source", green, holdAction, lightCtx{}, red, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.Apply(ctx, tt.current, tt.action, tt.guardCtx)
			assert.Equal(t, tt.want, got)
			if tt.wantCode == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, tt.wantCode), "got %v, want code %s", err, tt.wantCode)
		})
	}
}

func TestApply_GuardReasonPreserved(t *testing.T) {
	m := newLightMachine(t)

	_, err := m.Apply(context.Background(), red, goAction, lightCtx{})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrGuardRejected)
	assert.Contains(t, err.Error(), "no power")
}

func TestApply_InvalidTransitionParams(t *testing.T) {
	m := newLightMachine(t)

	_, err := m.Apply(context.Background(), yellow, goAction, lightCtx{powered: true})
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	assert.Equal(t, "traffic_light", appErr.Params["machine"])
	assert.Equal(t, "YELLOW", appErr.Params["state"])
	assert.Equal(t, "go", appErr.Params["transition"])
}

func TestAllowed(t *testing.T) {
	m := newLightMachine(t)
	ctx := context.Background()

	assert.Equal(t, []action{goAction, holdAction, killAction},
		m.Allowed(ctx, red, lightCtx{powered: true}, killAction, goAction, holdAction))
	assert.Equal(t, []action{holdAction, killAction},
		m.Allowed(ctx, red, lightCtx{}, killAction, goAction, holdAction), "guard failure drops go")
	assert.Empty(t, m.Allowed(ctx, off, lightCtx{powered: true}, goAction, holdAction))
	assert.Empty(t, m.Allowed(ctx, red, lightCtx{powered: true}))
}

func TestNew_InvalidTables(t *testing.T) {
	tests := []struct {
		name  string
		mName string
		table []Transition[light, action, lightCtx]
	}{
		{"missing name", "", []Transition[light, action, lightCtx]{{Name: goAction, From: []light{red}, To: green}}},
		{"empty table", "x", nil},
		{"unnamed transition", "x", []Transition[light, action, lightCtx]{{From: []light{red}, To: green}}},
		{"no source", "x", []Transition[light, action, lightCtx]{{Name: goAction, To: green}}},
		{"duplicate row", "x", []Transition[light, action, lightCtx]{
			{Name: goAction, From: []light{red}, To: green},
			{Name: goAction, From: []light{red}, To: yellow},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.mName, tt.table...)
			assert.Error(t, err)
		})
	}
}

func TestMustNew_Panics(t *testing.T) {
	assert.Panics(t, func() {
		MustNew[light, action, lightCtx]("x")
	})
}
