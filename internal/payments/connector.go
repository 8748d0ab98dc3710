package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"havenhomes/pkg/domain"
)

// processorAPI is the slice of the processor client the connectors need;
// tests substitute a stub.
type processorAPI interface {
	CreateACHSetupIntent(ctx context.Context, buildID string, amountCents int64) (SetupSession, error)
	ConfirmACHSetup(ctx context.Context, sessionID, bankAccountToken string) (string, error)
	ProvisionVirtualAccount(ctx context.Context, buildID string, amountCents int64) (domain.TransferInstructions, error)
	VerifyCard(ctx context.Context, buildID, cardToken string) (string, error)
	ChargeCard(ctx context.Context, buildID, instrumentID string, amountCents int64) (string, error)
	SaveInstrument(ctx context.Context, buildID, instrumentID string, metadata map[string]string) error
}

// Connector encapsulates one payment method's handshake with the processor.
type Connector interface {
	Method() domain.PaymentMethod
	// BeginSetup opens the processor-side setup session for a build. Calling
	// it again replaces any in-flight session.
	BeginSetup(ctx context.Context, buildID string, amountCents int64) (SetupSession, error)
	// Confirm exchanges client-collected data for a usable instrument id.
	Confirm(ctx context.Context, buildID, sessionID, token string) (string, error)
	// Save registers the confirmed instrument with the processor.
	Save(ctx context.Context, buildID, instrumentID string, metadata map[string]string) error
}

const (
	maxAutoRetries    = 2
	defaultRetryDelay = 750 * time.Millisecond
)

// BeginSetupWithRetry applies the setup retry policy: a recoverable failure
// gets at most maxAutoRetries automatic retries with a fixed delay; after
// that the caller sees ErrNeedsRefresh. Hard failures surface immediately.
func BeginSetupWithRetry(ctx context.Context, conn Connector, buildID string, amountCents int64, delay time.Duration) (SetupSession, error) {
	if delay <= 0 {
		delay = defaultRetryDelay
	}
	var lastErr error
	for attempt := 0; attempt <= maxAutoRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return SetupSession{}, ctx.Err()
			case <-time.After(delay):
			}
		}
		session, err := conn.BeginSetup(ctx, buildID, amountCents)
		if err == nil {
			return session, nil
		}
		var pe *ProcessorError
		if !errors.As(err, &pe) || !pe.Recoverable() {
			return SetupSession{}, err
		}
		lastErr = err
	}
	return SetupSession{}, fmt.Errorf("%w: %w", ErrNeedsRefresh, lastErr)
}

// ACHConnector links a bank account and records the debit mandate.
type ACHConnector struct {
	api processorAPI
}

func NewACHConnector(api *Client) *ACHConnector { return &ACHConnector{api: api} }

func (c *ACHConnector) Method() domain.PaymentMethod { return domain.MethodACHDebit }

func (c *ACHConnector) BeginSetup(ctx context.Context, buildID string, amountCents int64) (SetupSession, error) {
	return c.api.CreateACHSetupIntent(ctx, buildID, amountCents)
}

func (c *ACHConnector) Confirm(ctx context.Context, _, sessionID, bankAccountToken string) (string, error) {
	return c.api.ConfirmACHSetup(ctx, sessionID, bankAccountToken)
}

func (c *ACHConnector) Save(ctx context.Context, buildID, instrumentID string, metadata map[string]string) error {
	return c.api.SaveInstrument(ctx, buildID, instrumentID, metadata)
}

// TransferConnector provisions a virtual account; there is no instrument to
// confirm, the buyer pays by wire against the reference code.
type TransferConnector struct {
	api processorAPI
}

func NewTransferConnector(api *Client) *TransferConnector {
	return &TransferConnector{api: api}
}

func (c *TransferConnector) Method() domain.PaymentMethod { return domain.MethodBankTransfer }

func (c *TransferConnector) Provision(ctx context.Context, buildID string, amountCents int64) (domain.TransferInstructions, error) {
	return c.api.ProvisionVirtualAccount(ctx, buildID, amountCents)
}

func (c *TransferConnector) BeginSetup(ctx context.Context, buildID string, amountCents int64) (SetupSession, error) {
	instructions, err := c.api.ProvisionVirtualAccount(ctx, buildID, amountCents)
	if err != nil {
		return SetupSession{}, err
	}
	return SetupSession{ID: instructions.Reference}, nil
}

func (c *TransferConnector) Confirm(_ context.Context, _, sessionID, _ string) (string, error) {
	return sessionID, nil
}

func (c *TransferConnector) Save(ctx context.Context, buildID, instrumentID string, metadata map[string]string) error {
	return c.api.SaveInstrument(ctx, buildID, instrumentID, metadata)
}

// CardConnector verifies, saves, and charges tokenized cards.
type CardConnector struct {
	api processorAPI
}

func NewCardConnector(api *Client) *CardConnector { return &CardConnector{api: api} }

func (c *CardConnector) Method() domain.PaymentMethod { return domain.MethodCard }

func (c *CardConnector) BeginSetup(ctx context.Context, buildID string, amountCents int64) (SetupSession, error) {
	// Card collection happens client-side against the processor; the session
	// only carries the amount forward.
	return SetupSession{ID: buildID, ClientSecret: ""}, nil
}

func (c *CardConnector) Confirm(ctx context.Context, buildID, _, cardToken string) (string, error) {
	return c.api.VerifyCard(ctx, buildID, cardToken)
}

func (c *CardConnector) Save(ctx context.Context, buildID, instrumentID string, metadata map[string]string) error {
	return c.api.SaveInstrument(ctx, buildID, instrumentID, metadata)
}

// Charge charges the saved card and returns the processor status.
func (c *CardConnector) Charge(ctx context.Context, buildID, instrumentID string, amountCents int64) (string, error) {
	return c.api.ChargeCard(ctx, buildID, instrumentID, amountCents)
}
