package flow

import (
	"github.com/execution-hub/exchange-withdraw/internal/domain/errorcode"
	"github.com/execution-hub/exchange-withdraw/internal/domain/exchange"
	"github.com/execution-hub/exchange-withdraw/internal/domain/machine"
	"github.com/execution-hub/exchange-withdraw/internal/domain/withdrawal"
)

type transition = machine.TransitionFunc[State, Context]

func (f *Flow) transitions() machine.Transitions[State, Context] {
	t := machine.Transitions[State, Context]{
		StateIdle: {
			ActionLoadExchanges: loadExchanges,
			ActionStartOAuth:    startOAuth,
		},
		StateExchangesLoading: {
			ActionExchangesLoaded: exchangesLoaded,
			ActionExchangesFailed: exchangesFailed,
		},
		StateExchangesReady: {
			ActionLoadExchanges: loadExchanges,
			ActionStartOAuth:    startOAuth,
		},
		StateExchangesError: {
			ActionLoadExchanges: loadExchanges,
			ActionStartOAuth:    startOAuth,
		},

		// Completion messages may overtake the window-opened notification,
		// so the outcome actions are accepted while still waiting.
		StateOAuthWaiting: {
			ActionOAuthWindowOpened: oauthWindowOpened,
			ActionOAuthCompleted:    oauthCompleted,
			ActionOAuthFailed:       oauthFailed,
			ActionOAuthFatal:        oauthFatal,
		},
		StateOAuthProcessing: {
			ActionOAuthCompleted:          oauthCompleted,
			ActionOAuthFailed:             oauthFailed,
			ActionOAuthFatal:              oauthFatal,
			ActionOAuthWindowClosedByUser: oauthWindowClosed,
		},
		StateOAuthCompleted: {
			ActionLoadWallet: loadWallet,
		},
		StateOAuthError: {
			ActionStartOAuth: startOAuth,
		},
		StateOAuthWindowClosedByUser: {
			ActionStartOAuth: startOAuth,
		},
		StateOAuthFatal: {},

		StateWalletLoading: {
			ActionWalletLoaded: walletLoaded,
			ActionWalletFailed: walletFailed,
		},
		StateWalletError: {
			ActionLoadWallet: loadWallet,
		},
		StateWalletReady: {
			ActionLoadWallet:   loadWallet,
			ActionRequestQuote: requestQuote,
		},

		StateQuoteRequesting: {
			ActionQuoteReceived: quoteReceived,
			ActionQuoteFailed:   quoteFailed,
		},
		StateQuoteReady: {
			ActionRequestQuote:    requestQuote,
			ActionQuoteExpired:    quoteExpired,
			ActionStartWithdrawal: f.startWithdrawal,
		},
		StateQuoteError: {
			ActionRequestQuote: requestQuote,
		},
		StateQuoteExpired: {
			ActionRequestQuote: requestQuote,
		},

		// QUOTE_EXPIRED is deliberately absent from every withdraw state.
		StateWithdrawProcessing: {
			ActionWithdrawalRequires2FA:         f.requires2FA,
			ActionWithdrawalRequiresSMS:         f.requiresSMS,
			ActionWithdrawalRequiresKYC:         f.requiresKYC,
			ActionWithdrawal2FAInvalid:          f.twoFAInvalid,
			ActionWithdrawalInsufficientBalance: f.insufficientBalance,
			ActionWithdrawalFailed:              f.withdrawalFailed,
			ActionWithdrawalRetry:               f.withdrawalRetry,
			ActionWithdrawalBlocked:             f.withdrawalBlocked,
			ActionWithdrawalFatal:               f.withdrawalFatal,
			ActionWithdrawalQuoteRejected:       f.quoteRejected,
			ActionWithdrawalCompleted:           f.withdrawalCompleted,
		},
		StateWithdrawError2FA: {
			ActionWithdrawalSubmit2FA: f.submit2FA,
		},
		StateWithdrawError2FAInvalid: {
			ActionWithdrawalSubmit2FA: f.submit2FA,
		},
		StateWithdrawErrorSMS: {
			ActionWithdrawalSubmitSMS: f.submitSMS,
		},
		StateWithdrawErrorKYC: {},
		StateWithdrawErrorBalance: {
			ActionRequestQuote: requestQuote,
		},
	}
	for s, m := range t {
		if !s.IsTerminal() {
			m[ActionCancelFlow] = f.cancel
		}
	}
	return t
}

func clearError(cur Snapshot) Snapshot {
	cur.Err = nil
	cur.Context.ErrorDetails = nil
	return cur
}

func withError(cur Snapshot, err error) Snapshot {
	cur.Err = err
	cur.Context.ErrorDetails = detailsOf(err)
	return cur
}

func loadExchanges(cur Snapshot, _ machine.Action) (Snapshot, bool) {
	cur = clearError(cur)
	cur.State = StateExchangesLoading
	return cur, true
}

func exchangesLoaded(cur Snapshot, a machine.Action) (Snapshot, bool) {
	cur.State = StateExchangesReady
	cur.Context.Exchanges = append([]exchange.Exchange(nil), a.(ExchangesLoaded).Exchanges...)
	return cur, true
}

func exchangesFailed(cur Snapshot, a machine.Action) (Snapshot, bool) {
	cur = withError(cur, orDefault(a.(ExchangesFailed).Err, "failed to load exchanges"))
	cur.State = StateExchangesError
	return cur, true
}

func startOAuth(cur Snapshot, a machine.Action) (Snapshot, bool) {
	act := a.(StartOAuth)
	cur = clearError(cur)
	cur.State = StateOAuthWaiting
	cur.Context.Exchange = act.Exchange
	if act.WalletID != "" {
		cur.Context.WalletID = act.WalletID
	}
	cur.Context.IdempotencyKey = act.IdempotencyKey
	cur.Context.TopicName = act.IdempotencyKey
	cur.Context.OAuthErrorType = ""
	return cur, true
}

func oauthWindowOpened(cur Snapshot, _ machine.Action) (Snapshot, bool) {
	cur.State = StateOAuthProcessing
	return cur, true
}

func oauthCompleted(cur Snapshot, _ machine.Action) (Snapshot, bool) {
	cur = clearError(cur)
	cur.State = StateOAuthCompleted
	cur.Context.OAuthErrorType = ""
	return cur, true
}

func oauthFailed(cur Snapshot, a machine.Action) (Snapshot, bool) {
	cur = withError(cur, orDefault(a.(OAuthFailed).Err, "authorization failed"))
	cur.State = StateOAuthError
	cur.Context.OAuthErrorType = OAuthErrorRecoverable
	return cur, true
}

func oauthFatal(cur Snapshot, a machine.Action) (Snapshot, bool) {
	cur = withError(cur, orDefault(a.(OAuthFatal).Err, "authorization connection broken"))
	cur.State = StateOAuthFatal
	cur.Context.OAuthErrorType = OAuthErrorFatal
	return cur, true
}

func oauthWindowClosed(cur Snapshot, a machine.Action) (Snapshot, bool) {
	cur = withError(cur, orDefault(a.(OAuthWindowClosedByUser).Err, "authorization window closed by user"))
	cur.State = StateOAuthWindowClosedByUser
	cur.Context.OAuthErrorType = OAuthErrorRecoverable
	return cur, true
}

func loadWallet(cur Snapshot, _ machine.Action) (Snapshot, bool) {
	cur = clearError(cur)
	cur.State = StateWalletLoading
	return cur, true
}

func walletLoaded(cur Snapshot, a machine.Action) (Snapshot, bool) {
	cur.State = StateWalletReady
	cur.Context.WalletBalances = append([]exchange.Balance(nil), a.(WalletLoaded).Balances...)
	return cur, true
}

func walletFailed(cur Snapshot, a machine.Action) (Snapshot, bool) {
	cur = withError(cur, orDefault(a.(WalletFailed).Err, "failed to load wallet"))
	cur.State = StateWalletError
	return cur, true
}

// requestQuote keeps the previous quote until a new one arrives.
func requestQuote(cur Snapshot, a machine.Action) (Snapshot, bool) {
	req := a.(RequestQuote).Request
	cur = clearError(cur)
	cur.State = StateQuoteRequesting
	cur.Context.LastQuoteRequest = &req
	return cur, true
}

func quoteReceived(cur Snapshot, a machine.Action) (Snapshot, bool) {
	q := a.(QuoteReceived).Quote
	cur.State = StateQuoteReady
	cur.Context.Quote = &q
	return cur, true
}

func quoteFailed(cur Snapshot, a machine.Action) (Snapshot, bool) {
	cur = withError(cur, orDefault(a.(QuoteFailed).Err, "failed to request quote"))
	cur.State = StateQuoteError
	return cur, true
}

// quoteExpired ignores timers armed for a superseded quote.
func quoteExpired(cur Snapshot, a machine.Action) (Snapshot, bool) {
	id := a.(QuoteExpired).QuoteID
	if cur.Context.Quote == nil || (id != "" && id != cur.Context.Quote.ID) {
		return cur, false
	}
	cur = withError(cur, errorcode.New("quote_expired", "quote "+cur.Context.Quote.ID+" expired"))
	cur.State = StateQuoteExpired
	return cur, true
}

func (f *Flow) startWithdrawal(cur Snapshot, a machine.Action) (Snapshot, bool) {
	id := a.(StartWithdrawal).QuoteID
	q := cur.Context.Quote
	if q == nil || (id != "" && id != q.ID) {
		return cur, false
	}
	s, err := f.startChild(q.ID, cur.Context.WalletID)
	if err != nil {
		return cur, false
	}
	cur = clearError(cur)
	cur.State = StateWithdrawProcessing
	cur.Context.Withdrawal = infoOf(s)
	cur.Context.RetryAttempts = 0
	return cur, true
}

func (f *Flow) challenge(to State, kind errorcode.Kind, msg string, forward machine.Action) transition {
	return func(cur Snapshot, _ machine.Action) (Snapshot, bool) {
		s, ok := f.sendChild(forward)
		if !ok {
			return cur, false
		}
		cur.Err = nil
		cur.State = to
		cur.Context.Withdrawal = infoOf(s)
		cur.Context.ErrorDetails = &ErrorDetails{
			Kind:            kind,
			Message:         msg,
			RequiredActions: append([]string(nil), s.Context.RequiredActions...),
		}
		return cur, true
	}
}

func (f *Flow) requires2FA(cur Snapshot, a machine.Action) (Snapshot, bool) {
	act := a.(WithdrawalRequires2FA)
	return f.challenge(StateWithdrawError2FA, errorcode.KindTwoFARequired, "two-factor code required",
		withdrawal.Requires2FA{RequiredActions: act.RequiredActions})(cur, a)
}

func (f *Flow) requiresSMS(cur Snapshot, a machine.Action) (Snapshot, bool) {
	act := a.(WithdrawalRequiresSMS)
	return f.challenge(StateWithdrawErrorSMS, errorcode.KindSMSRequired, "SMS code required",
		withdrawal.RequiresSMS{RequiredActions: act.RequiredActions})(cur, a)
}

func (f *Flow) requiresKYC(cur Snapshot, a machine.Action) (Snapshot, bool) {
	act := a.(WithdrawalRequiresKYC)
	return f.challenge(StateWithdrawErrorKYC, errorcode.KindKYCRequired, "identity verification required",
		withdrawal.RequiresKYC{RequiredActions: act.RequiredActions})(cur, a)
}

// twoFAInvalid puts the nested machine back into waitingFor2FA so the same
// attempt can be resubmitted.
func (f *Flow) twoFAInvalid(cur Snapshot, a machine.Action) (Snapshot, bool) {
	s, ok := f.sendChild(withdrawal.Requires2FA{})
	if !ok {
		return cur, false
	}
	cur = withError(cur, orDefault(a.(Withdrawal2FAInvalid).Err, "invalid two-factor code"))
	cur.State = StateWithdrawError2FAInvalid
	cur.Context.Withdrawal = infoOf(s)
	cur.Context.Invalid2FAAttempts++
	return cur, true
}

func (f *Flow) submit2FA(cur Snapshot, a machine.Action) (Snapshot, bool) {
	s, ok := f.sendChild(withdrawal.Submit2FA{Code: a.(WithdrawalSubmit2FA).Code})
	if !ok {
		return cur, false
	}
	cur = clearError(cur)
	cur.State = StateWithdrawProcessing
	cur.Context.Withdrawal = infoOf(s)
	return cur, true
}

func (f *Flow) submitSMS(cur Snapshot, a machine.Action) (Snapshot, bool) {
	s, ok := f.sendChild(withdrawal.SubmitSMS{Code: a.(WithdrawalSubmitSMS).Code})
	if !ok {
		return cur, false
	}
	cur = clearError(cur)
	cur.State = StateWithdrawProcessing
	cur.Context.Withdrawal = infoOf(s)
	return cur, true
}

// insufficientBalance closes the attempt; the user may request a new quote.
func (f *Flow) insufficientBalance(cur Snapshot, a machine.Action) (Snapshot, bool) {
	if st, ok := f.childState(); !ok || st != withdrawal.StateProcessing {
		return cur, false
	}
	f.releaseChild()
	cur = withError(cur, orDefault(a.(WithdrawalInsufficientBalance).Err, "insufficient balance"))
	if cur.Context.ErrorDetails.Kind == errorcode.KindUnknown {
		cur.Context.ErrorDetails.Kind = errorcode.KindInsufficientBalance
	}
	cur.State = StateWithdrawErrorBalance
	return cur, true
}

// withdrawalFailed stays in withdraw:processing while the nested machine
// has retries left and becomes fatal once they are exhausted.
func (f *Flow) withdrawalFailed(cur Snapshot, a machine.Action) (Snapshot, bool) {
	err := orDefault(a.(WithdrawalFailed).Err, "withdrawal failed")
	s, ok := f.sendChild(withdrawal.Fail{Err: err})
	if !ok {
		return cur, false
	}
	cur = withError(cur, err)
	cur.Context.Withdrawal = infoOf(s)
	cur.Context.RetryAttempts = s.Context.RetryCount
	if s.State == withdrawal.StateFailed {
		f.releaseChild()
		cur.State = StateWithdrawFatal
		return cur, true
	}
	cur.State = StateWithdrawProcessing
	return cur, true
}

func (f *Flow) withdrawalRetry(cur Snapshot, _ machine.Action) (Snapshot, bool) {
	s, ok := f.sendChild(withdrawal.Retry{})
	if !ok {
		return cur, false
	}
	cur = clearError(cur)
	cur.Context.Withdrawal = infoOf(s)
	return cur, true
}

// withdrawalBlocked reaches withdraw:blocked in the same Send call as the
// nested machine reaches blocked.
func (f *Flow) withdrawalBlocked(cur Snapshot, a machine.Action) (Snapshot, bool) {
	s, ok := f.sendChild(withdrawal.Blocked{Reason: a.(WithdrawalBlocked).Reason})
	if !ok {
		return cur, false
	}
	f.releaseChild()
	cur = withError(cur, s.Err)
	if cur.Context.ErrorDetails.Kind == errorcode.KindUnknown {
		cur.Context.ErrorDetails.Kind = errorcode.KindBlocked
	}
	cur.State = StateWithdrawBlocked
	cur.Context.Withdrawal = infoOf(s)
	return cur, true
}

func (f *Flow) withdrawalFatal(cur Snapshot, a machine.Action) (Snapshot, bool) {
	if _, ok := f.childState(); !ok {
		return cur, false
	}
	f.releaseChild()
	cur = withError(cur, orDefault(a.(WithdrawalFatal).Err, "withdrawal failed"))
	cur.State = StateWithdrawFatal
	return cur, true
}

// quoteRejected moves back to quote:expired when the server, not the local
// timer, declares the quote expired.
func (f *Flow) quoteRejected(cur Snapshot, a machine.Action) (Snapshot, bool) {
	if st, ok := f.childState(); !ok || st != withdrawal.StateProcessing {
		return cur, false
	}
	f.releaseChild()
	err := a.(WithdrawalQuoteRejected).Err
	if err == nil {
		err = errorcode.New("quote_expired", "quote expired before execution")
	}
	cur = withError(cur, err)
	cur.Context.ErrorDetails.Kind = errorcode.KindQuoteExpired
	cur.State = StateQuoteExpired
	return cur, true
}

func (f *Flow) withdrawalCompleted(cur Snapshot, a machine.Action) (Snapshot, bool) {
	s, ok := f.sendChild(withdrawal.Success{TransactionID: a.(WithdrawalCompleted).TransactionID})
	if !ok {
		return cur, false
	}
	f.releaseChild()
	cur = clearError(cur)
	cur.State = StateWithdrawCompleted
	cur.Context.Withdrawal = infoOf(s)
	return cur, true
}

func (f *Flow) cancel(cur Snapshot, _ machine.Action) (Snapshot, bool) {
	f.releaseChild()
	cur.State = StateCancelled
	cur.Err = nil
	return cur, true
}
