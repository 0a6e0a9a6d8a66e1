package withdrawal

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/execution-hub/exchange-withdraw/internal/domain/machine"
)

func sequentialKeys() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("key-%d", n)
	}
}

func mustSend(t *testing.T, m *Machine, a machine.Action) bool {
	t.Helper()
	applied, err := m.Send(a)
	require.NoError(t, err)
	return applied
}

func mustSnapshot(t *testing.T, m *Machine) Snapshot {
	t.Helper()
	s, err := m.Snapshot()
	require.NoError(t, err)
	return s
}

func TestNew(t *testing.T) {
	m := New(2)
	s := mustSnapshot(t, m)
	assert.Equal(t, StateIdle, s.State)
	assert.Equal(t, 2, s.Context.MaxRetries)
	assert.Empty(t, s.Context.IdempotencyKey)

	assert.Equal(t, DefaultMaxRetries, mustSnapshot(t, New(-1)).Context.MaxRetries)
}

func TestMachine_RetryScenario(t *testing.T) {
	m := New(3)

	require.True(t, mustSend(t, m, Execute{QuoteID: "quote-1", WalletID: "wallet-1"}))
	s := mustSnapshot(t, m)
	assert.Equal(t, StateProcessing, s.State)
	assert.Equal(t, "quote-1", s.Context.QuoteID)
	assert.Equal(t, "wallet-1", s.Context.WalletID)
	firstKey := s.Context.IdempotencyKey
	require.NotEmpty(t, firstKey)

	err := errors.New("network down")
	require.True(t, mustSend(t, m, Fail{Err: err}))
	s = mustSnapshot(t, m)
	assert.Equal(t, StateRetrying, s.State)
	assert.Equal(t, 1, s.Context.RetryCount)
	assert.Equal(t, err, s.Context.LastError)
	assert.Equal(t, firstKey, s.Context.IdempotencyKey)

	require.True(t, mustSend(t, m, Retry{}))
	s = mustSnapshot(t, m)
	assert.Equal(t, StateProcessing, s.State)
	assert.Equal(t, 1, s.Context.RetryCount)
	assert.NotEqual(t, firstKey, s.Context.IdempotencyKey)

	require.True(t, mustSend(t, m, Success{TransactionID: "tx-1"}))
	s = mustSnapshot(t, m)
	assert.Equal(t, StateCompleted, s.State)
	assert.Equal(t, "tx-1", s.Context.TransactionID)
}

func TestMachine_IdempotencyKeyPerAttempt(t *testing.T) {
	m := New(5)
	keys := map[string]int{}

	mustSend(t, m, Execute{QuoteID: "q", WalletID: "w"})
	keys[mustSnapshot(t, m).Context.IdempotencyKey]++

	for i := 0; i < 5; i++ {
		mustSend(t, m, Fail{Err: errors.New("boom")})
		mustSend(t, m, Retry{})
		keys[mustSnapshot(t, m).Context.IdempotencyKey]++
	}

	assert.Len(t, keys, 6)
	for k, n := range keys {
		assert.Equal(t, 1, n, "key %s reused", k)
	}
}

func TestMachine_ChallengeKeepsKey(t *testing.T) {
	tests := []struct {
		name      string
		require   machine.Action
		waiting   State
		submit    machine.Action
		required  string
		checkCode func(t *testing.T, c Context)
	}{
		{
			name:     "2fa",
			require:  Requires2FA{},
			waiting:  StateWaitingFor2FA,
			submit:   Submit2FA{Code: "123456"},
			required: RequiredAction2FA,
			checkCode: func(t *testing.T, c Context) {
				assert.Equal(t, "123456", c.TwoFactorCode)
			},
		},
		{
			name:     "sms",
			require:  RequiresSMS{RequiredActions: []string{"sms_code"}},
			waiting:  StateWaitingForSMS,
			submit:   SubmitSMS{Code: "9876"},
			required: "sms_code",
			checkCode: func(t *testing.T, c Context) {
				assert.Equal(t, "9876", c.SMSCode)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(3, WithKeyGenerator(sequentialKeys()))
			mustSend(t, m, Execute{QuoteID: "q", WalletID: "w"})
			key := mustSnapshot(t, m).Context.IdempotencyKey
			assert.Equal(t, "key-1", key)

			require.True(t, mustSend(t, m, tt.require))
			s := mustSnapshot(t, m)
			assert.Equal(t, tt.waiting, s.State)
			assert.Equal(t, []string{tt.required}, s.Context.RequiredActions)

			require.True(t, mustSend(t, m, tt.submit))
			s = mustSnapshot(t, m)
			assert.Equal(t, StateProcessing, s.State)
			assert.Nil(t, s.Context.RequiredActions)
			assert.Equal(t, key, s.Context.IdempotencyKey)
			tt.checkCode(t, s.Context)
		})
	}
}

func TestMachine_WrongSubmissionIgnored(t *testing.T) {
	m := New(3)
	mustSend(t, m, Execute{QuoteID: "q", WalletID: "w"})
	mustSend(t, m, Requires2FA{})

	before := mustSnapshot(t, m)
	assert.False(t, mustSend(t, m, SubmitSMS{Code: "1"}))
	assert.Equal(t, before, mustSnapshot(t, m))
}

func TestMachine_KYCHasNoExit(t *testing.T) {
	m := New(3)
	mustSend(t, m, Execute{QuoteID: "q", WalletID: "w"})
	require.True(t, mustSend(t, m, RequiresKYC{}))

	for _, a := range []machine.Action{
		Submit2FA{Code: "1"}, SubmitSMS{Code: "1"}, Success{}, Fail{}, Retry{}, Blocked{}, Execute{},
	} {
		assert.False(t, mustSend(t, m, a), "action %s", a.Type())
	}
	assert.Equal(t, StateWaitingForKYC, mustSnapshot(t, m).State)
}

func TestMachine_RetryBudget(t *testing.T) {
	for _, k := range []int{0, 1, 3, 5} {
		t.Run(fmt.Sprintf("maxRetries=%d", k), func(t *testing.T) {
			m := New(k)
			mustSend(t, m, Execute{QuoteID: "q", WalletID: "w"})

			for i := 0; i < k; i++ {
				mustSend(t, m, Fail{Err: errors.New("boom")})
				require.Equal(t, StateRetrying, mustSnapshot(t, m).State)
				mustSend(t, m, Retry{})
			}
			mustSend(t, m, Fail{Err: errors.New("final")})

			s := mustSnapshot(t, m)
			assert.Equal(t, StateFailed, s.State)
			assert.Equal(t, k, s.Context.RetryCount)
			require.Error(t, s.Err)
			assert.Equal(t, "final", s.Err.Error())

			assert.False(t, mustSend(t, m, Retry{}))
			assert.False(t, mustSend(t, m, Success{TransactionID: "tx"}))
			assert.Equal(t, StateFailed, mustSnapshot(t, m).State)
		})
	}
}

func TestMachine_Blocked(t *testing.T) {
	m := New(3)
	mustSend(t, m, Execute{QuoteID: "q", WalletID: "w"})
	require.True(t, mustSend(t, m, Blocked{Reason: "sanctioned address"}))

	s := mustSnapshot(t, m)
	assert.Equal(t, StateBlocked, s.State)
	require.Error(t, s.Err)
	assert.Equal(t, "sanctioned address", s.Err.Error())
}

func TestMachine_TerminalStatesAbsorb(t *testing.T) {
	reach := map[State][]machine.Action{
		StateCompleted: {Execute{QuoteID: "q", WalletID: "w"}, Success{TransactionID: "tx"}},
		StateBlocked:   {Execute{QuoteID: "q", WalletID: "w"}, Blocked{Reason: "no"}},
		StateFailed:    {Execute{QuoteID: "q", WalletID: "w"}, Fail{Err: errors.New("x")}},
	}
	all := []machine.Action{
		Execute{QuoteID: "q2", WalletID: "w2"}, Requires2FA{}, RequiresSMS{}, RequiresKYC{},
		Submit2FA{Code: "1"}, SubmitSMS{Code: "1"}, Success{TransactionID: "tx2"},
		Fail{Err: errors.New("y")}, Retry{}, Blocked{Reason: "z"},
	}

	for state, path := range reach {
		t.Run(string(state), func(t *testing.T) {
			m := New(0)
			for _, a := range path {
				mustSend(t, m, a)
			}
			before := mustSnapshot(t, m)
			require.Equal(t, state, before.State)
			assert.True(t, before.State.IsTerminal())

			notified := 0
			_, err := m.Subscribe(func(Snapshot) { notified++ })
			require.NoError(t, err)

			for _, a := range all {
				assert.False(t, mustSend(t, m, a))
			}
			assert.Equal(t, before, mustSnapshot(t, m))
			assert.Equal(t, 1, notified)
		})
	}
}

func TestMachine_Disposed(t *testing.T) {
	m := New(3)
	m.Dispose()

	_, err := m.Snapshot()
	assert.ErrorIs(t, err, machine.ErrDisposed)
	_, err = m.Send(Execute{})
	assert.ErrorIs(t, err, machine.ErrDisposed)
	_, err = m.Subscribe(func(Snapshot) {})
	assert.ErrorIs(t, err, machine.ErrDisposed)
}

func TestMachine_SnapshotRequiredActionsAreCopies(t *testing.T) {
	m := New(3)
	mustSend(t, m, Execute{QuoteID: "q", WalletID: "w"})

	var seen []string
	_, err := m.Subscribe(func(s Snapshot) {
		seen = s.Context.RequiredActions
	})
	require.NoError(t, err)

	require.True(t, mustSend(t, m, Requires2FA{RequiredActions: []string{"2fa", "email"}}))
	require.Len(t, seen, 2)
	seen[0] = "tampered"

	s := mustSnapshot(t, m)
	s.Context.RequiredActions[1] = "tampered"

	assert.Equal(t, []string{"2fa", "email"}, mustSnapshot(t, m).Context.RequiredActions)
}
