package redeemer

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/0gfoundation/0g-rav-redeemer/internal/signer"
	"github.com/0gfoundation/0g-rav-redeemer/internal/voucher"
)

func TestLegacyCollected_MissingEventWarns(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	e := newEnv(t, voucher.Legacy)
	l := NewLegacy(testChainID, tapVerifier, escrowAddr, signer.NewKeyring(e.operator, nil, zap.NewNop()), zap.New(core))
	a := e.allocation(e.operator, 0)
	pr := pendingOf(e.rav(a.ID, 400, e.payerKey), a)

	got, err := l.Collected(&types.Receipt{Status: types.ReceiptStatusSuccessful}, &pr, big.NewInt(400))
	if err != nil {
		t.Fatalf("Collected: %v", err)
	}
	if got.Int64() != 400 {
		t.Errorf("collected = %s, want requested 400", got)
	}
	warns := logs.FilterLevelExact(zapcore.WarnLevel).All()
	if len(warns) != 1 {
		t.Fatalf("warn entries = %d, want 1", len(warns))
	}
	if warns[0].ContextMap()["requested"] != "400" {
		t.Errorf("warn fields = %v", warns[0].ContextMap())
	}
}

func TestLegacyCollected_EventAmountWins(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	e := newEnv(t, voucher.Legacy)
	l := NewLegacy(testChainID, tapVerifier, escrowAddr, signer.NewKeyring(e.operator, nil, zap.NewNop()), zap.New(core))
	a := e.allocation(e.operator, 0)
	pr := pendingOf(e.rav(a.ID, 400, e.payerKey), a)
	receipt := &types.Receipt{Status: types.ReceiptStatusSuccessful, Logs: []*types.Log{redeemEventLog(t, e.payer, a.ID, 350)}}

	got, err := l.Collected(receipt, &pr, big.NewInt(400))
	if err != nil {
		t.Fatalf("Collected: %v", err)
	}
	if got.Int64() != 350 {
		t.Errorf("collected = %s, want 350", got)
	}
	if logs.Len() != 0 {
		t.Errorf("unexpected log entries: %v", logs.All())
	}
}
