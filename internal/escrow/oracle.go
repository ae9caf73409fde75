package escrow

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/bananaishere/kaspabox/internal/kaspa"
	"github.com/bananaishere/kaspabox/internal/models"
	"go.uber.org/zap"
)

// Oracle answers on-chain questions for the engine. Errors mean "no new
// information", never "the deposit is absent": the engine keeps the deal
// as-is and retries on the next cycle.
type Oracle interface {
	// VerifyDeposit checks whether the expected asset from fromAddress has
	// arrived at the escrow wallet. found=false with nil error is a
	// definitive "not yet".
	VerifyDeposit(ctx context.Context, fromAddress string, asset models.Asset, since time.Time) (txID string, found bool, err error)

	// SubmitTransfer sends an asset from the escrow wallet to the
	// destination and returns the transaction id.
	SubmitTransfer(ctx context.Context, toAddress string, asset models.Asset) (string, error)
}

// TransferSender executes signed outbound transfers from the escrow wallet.
type TransferSender interface {
	SendKAS(ctx context.Context, toAddress string, amountSompi *big.Int) (string, error)
	SendNFT(ctx context.Context, toAddress, tokenRef string) (string, error)
}

// ChainOracle verifies deposits against the Kaspa REST API and submits
// transfers through a TransferSender.
type ChainOracle struct {
	client         *kaspa.Client
	sender         TransferSender
	escrowAddress  string
	toleranceSompi *big.Int
	txScanLimit    int
	log            *zap.Logger
}

func NewChainOracle(client *kaspa.Client, sender TransferSender, escrowAddress string, toleranceSompi *big.Int, log *zap.Logger) *ChainOracle {
	if toleranceSompi == nil {
		toleranceSompi = big.NewInt(0)
	}
	return &ChainOracle{
		client:         client,
		sender:         sender,
		escrowAddress:  escrowAddress,
		toleranceSompi: toleranceSompi,
		txScanLimit:    50,
		log:            log,
	}
}

func (o *ChainOracle) VerifyDeposit(ctx context.Context, fromAddress string, asset models.Asset, since time.Time) (string, bool, error) {
	switch {
	case asset.IsKAS():
		return o.verifyKASDeposit(ctx, fromAddress, asset, since)
	case asset.IsNFT():
		return o.verifyNFTDeposit(ctx, fromAddress, asset, since)
	default:
		return "", false, fmt.Errorf("unknown asset kind %q", asset.Kind)
	}
}

// verifyKASDeposit scans recent transactions on the escrow wallet for one
// that pays at least the expected amount and spends an input owned by the
// depositor.
func (o *ChainOracle) verifyKASDeposit(ctx context.Context, fromAddress string, asset models.Asset, since time.Time) (string, bool, error) {
	expected, err := kaspa.ParseSompi(asset.AmountSompi)
	if err != nil {
		return "", false, fmt.Errorf("expected amount: %w", err)
	}
	// Tolerance never lowers the bar to zero: a matching tx must pay
	// something.
	minAccepted := new(big.Int).Sub(expected, o.toleranceSompi)
	if minAccepted.Sign() <= 0 {
		minAccepted = big.NewInt(1)
	}

	txs, err := o.client.GetAddressTransactions(ctx, o.escrowAddress, o.txScanLimit)
	if err != nil {
		return "", false, fmt.Errorf("list escrow transactions: %w", err)
	}

	sinceMillis := since.UnixMilli()
	for _, tx := range txs {
		if !tx.IsAccepted || tx.BlockTime < sinceMillis {
			continue
		}
		if !spendsFrom(tx, fromAddress) {
			continue
		}

		paid := big.NewInt(0)
		for _, out := range tx.Outputs {
			if out.ScriptPublicKeyAddress == o.escrowAddress {
				paid.Add(paid, big.NewInt(out.Amount))
			}
		}
		if paid.Cmp(minAccepted) >= 0 {
			return tx.TransactionID, true, nil
		}

		o.log.Debug("deposit below expected amount",
			zap.String("tx_id", tx.TransactionID),
			zap.String("from", kaspa.FormatAddress(fromAddress)),
			zap.String("paid_sompi", paid.String()),
			zap.String("expected_sompi", expected.String()),
		)
	}

	return "", false, nil
}

// verifyNFTDeposit checks the token's operation log for a transfer from the
// depositor to the escrow wallet, then confirms current ownership.
func (o *ChainOracle) verifyNFTDeposit(ctx context.Context, fromAddress string, asset models.Asset, since time.Time) (string, bool, error) {
	token, err := o.client.GetNFT(ctx, asset.TokenID)
	if err != nil {
		return "", false, fmt.Errorf("lookup token %s: %w", asset.TokenID, err)
	}
	if token.Owner != o.escrowAddress {
		return "", false, nil
	}

	ops, err := o.client.GetNFTOps(ctx, asset.TokenID)
	if err != nil {
		return "", false, fmt.Errorf("token ops %s: %w", asset.TokenID, err)
	}
	for _, op := range ops {
		if op.To == o.escrowAddress && op.From == fromAddress {
			return op.TxID, true, nil
		}
	}

	// Escrow holds the token but the transfer did not come from the
	// expected party. Not this party's deposit.
	return "", false, nil
}

func (o *ChainOracle) SubmitTransfer(ctx context.Context, toAddress string, asset models.Asset) (string, error) {
	switch {
	case asset.IsKAS():
		amount, err := kaspa.ParseSompi(asset.AmountSompi)
		if err != nil {
			return "", fmt.Errorf("transfer amount: %w", err)
		}
		return o.sender.SendKAS(ctx, toAddress, amount)
	case asset.IsNFT():
		return o.sender.SendNFT(ctx, toAddress, asset.TokenID)
	default:
		return "", fmt.Errorf("unknown asset kind %q", asset.Kind)
	}
}

func spendsFrom(tx kaspa.Transaction, address string) bool {
	for _, in := range tx.Inputs {
		if in.PreviousOutpointAddress == address {
			return true
		}
	}
	return false
}
