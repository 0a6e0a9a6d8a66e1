package exchange

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_collaborators.go -package=mocks . ExchangeLister,BalanceFetcher,QuoteRequester,WithdrawalExecutor,PopupOpener,MessageChannel

import "context"

// ExchangeLister lists exchanges available for connection.
type ExchangeLister interface {
	ListExchanges(ctx context.Context) ([]Exchange, error)
}

// BalanceFetcher loads balances of a connected wallet.
type BalanceFetcher interface {
	FetchBalances(ctx context.Context, walletID string) ([]Balance, error)
}

// QuoteRequester requests a withdrawal quote.
type QuoteRequester interface {
	RequestQuote(ctx context.Context, walletID string, req QuoteRequest) (*Quote, error)
}

// WithdrawalExecutor executes a quoted withdrawal under an idempotency key.
type WithdrawalExecutor interface {
	ExecuteWithdrawal(ctx context.Context, walletID, idempotencyKey, quoteID string, input ChallengeInput) (*WithdrawalResult, error)
}

// PopupOpener opens an OAuth authorization window. onClosedByUser must be
// invoked if the user dismisses the window. The returned func closes it.
type PopupOpener interface {
	Open(ctx context.Context, exchange string, params OAuthParams, onClosedByUser func()) (func(), error)
}

// MessageChannel delivers asynchronous messages by topic.
type MessageChannel interface {
	Subscribe(ctx context.Context, topic string, handler func(Message)) (func(), error)
	Publish(ctx context.Context, msg Message) error
}
