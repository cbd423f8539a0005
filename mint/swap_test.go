package mint

import (
	"testing"

	"github.com/runecashu/mint/cashu"
	"github.com/runecashu/mint/cashu/nuts/nut10"
	"github.com/runecashu/mint/cashu/nuts/nut11"
)

func mintProofs(t *testing.T, m *Mint, amounts ...uint64) cashu.Proofs {
	t.Helper()
	tokens, outputs := newTestOutputs(t, m, amounts...)
	signatures, err := m.signBlindedMessages(outputs)
	if err != nil {
		t.Fatalf("signBlindedMessages: %v", err)
	}
	return unblindProofs(t, m, tokens, signatures)
}

func TestSwapPreservesAmount(t *testing.T) {
	m, _ := newTestMint(t)
	inputs := mintProofs(t, m, 512, 256)

	_, outputs := newTestOutputs(t, m, 128, 128, 512)
	signatures, err := m.Swap(inputs, outputs)
	if err != nil {
		t.Fatalf("Swap: %v", err)
	}
	if signatures.Amount() != 768 {
		t.Fatalf("got %d, want 768", signatures.Amount())
	}
}

func TestSwapRejectsUnbalancedAmounts(t *testing.T) {
	m, _ := newTestMint(t)
	inputs := mintProofs(t, m, 512)
	_, outputs := newTestOutputs(t, m, 500)

	if _, err := m.Swap(inputs, outputs); err != cashu.AmountMismatchErr {
		t.Fatalf("got %v, want AmountMismatchErr", err)
	}
}

func TestSwapRejectsDuplicateInputs(t *testing.T) {
	m, _ := newTestMint(t)
	inputs := mintProofs(t, m, 512)
	inputs = append(inputs, inputs[0])
	_, outputs := newTestOutputs(t, m, 1024)

	if _, err := m.Swap(inputs, outputs); err != cashu.DuplicateProofsErr {
		t.Fatalf("got %v, want DuplicateProofsErr", err)
	}
}

func TestSwapRejectsAlreadySpentInputs(t *testing.T) {
	m, _ := newTestMint(t)
	inputs := mintProofs(t, m, 512)

	_, outputs := newTestOutputs(t, m, 512)
	if _, err := m.Swap(inputs, outputs); err != nil {
		t.Fatalf("first swap: %v", err)
	}

	_, outputs2 := newTestOutputs(t, m, 512)
	if _, err := m.Swap(inputs, outputs2); err != cashu.ProofAlreadyUsedErr {
		t.Fatalf("got %v, want ProofAlreadyUsedErr", err)
	}
}

func TestSwapRejectsSigAllInputs(t *testing.T) {
	m, _ := newTestMint(t)
	inputs := mintProofs(t, m, 512)
	secret, err := nut11.P2PKSecret("02" + "11111111111111111111111111111111111111111111111111111111111111")
	if err != nil {
		t.Fatalf("P2PKSecret: %v", err)
	}

	parsed, err := nut10.DeserializeSecret(secret)
	if err != nil {
		t.Fatalf("DeserializeSecret: %v", err)
	}
	parsed.Tags = append(parsed.Tags, []string{nut11.SIGFLAG, nut11.SIGALL})
	sigAllSecret, err := nut10.SerializeSecret(nut10.P2PK, parsed)
	if err != nil {
		t.Fatalf("SerializeSecret: %v", err)
	}
	inputs[0].Secret = sigAllSecret

	_, outputs := newTestOutputs(t, m, 512)
	if _, err := m.Swap(inputs, outputs); err != nut11.SigAllNotSupportedErr {
		t.Fatalf("got %v, want SigAllNotSupportedErr", err)
	}
}
