package mint

import (
	"fmt"
	"time"

	"github.com/runecashu/mint/cashu"
)

// Swap exchanges a set of spendable proofs for a fresh set of blinded
// signatures of equal total value. No fee is charged: sum(inputs) must equal
// sum(outputs) exactly.
func (m *Mint) Swap(inputs cashu.Proofs, outputs cashu.BlindedMessages) (cashu.BlindedSignatures, error) {
	if len(inputs) == 0 {
		return nil, cashu.NoProofsProvidedErr
	}
	if cashu.CheckDuplicateProofs(inputs) {
		return nil, cashu.DuplicateProofsErr
	}

	inAmount, err := inputs.AmountChecked()
	if err != nil {
		return nil, cashu.AmountOverflowErr
	}
	outAmount, err := outputs.AmountChecked()
	if err != nil {
		return nil, cashu.AmountOverflowErr
	}
	if inAmount != outAmount {
		return nil, cashu.AmountMismatchErr
	}

	if err := m.verifyProofs(inputs); err != nil {
		return nil, err
	}

	Ys := yValues(inputs)
	spent, err := m.db.CheckSpent(Ys)
	if err != nil {
		m.logErrorf("checking spent state for swap: %v", err)
		return nil, cashu.StandardErr
	}
	for _, y := range Ys {
		if spent[y] {
			return nil, cashu.ProofAlreadyUsedErr
		}
	}

	transactionId := fmt.Sprintf("swap_%d_%s", time.Now().UnixMilli(), Ys[0][:16])

	if err := m.db.MarkSpent(inputs, Ys, transactionId); err != nil {
		return nil, err
	}

	signatures, err := m.signBlindedMessages(outputs)
	if err != nil {
		if _, delErr := m.db.DeleteByTransactionID(transactionId); delErr != nil {
			m.logErrorf("reverting swap %s after signing failure: %v", transactionId, delErr)
		}
		return nil, err
	}

	return signatures, nil
}
