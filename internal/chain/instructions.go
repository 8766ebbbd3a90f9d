package chain

import (
	"encoding/binary"

	"github.com/gagliardetto/solana-go"
)

// Instruction discriminators.
const (
	ataCreateIdempotent   byte = 1
	tokenTransferChecked  byte = 12
	transferCheckedLength      = 1 + 8 + 1
)

// CreateIdempotentATA builds the associated-token-account program's
// create-idempotent instruction. It succeeds if the account already exists.
func CreateIdempotentATA(payer, ata, owner, mint solana.PublicKey, program Program) solana.Instruction {
	accounts := solana.AccountMetaSlice{
		solana.Meta(payer).WRITE().SIGNER(),
		solana.Meta(ata).WRITE(),
		solana.Meta(owner),
		solana.Meta(mint),
		solana.Meta(SystemProgramID),
		solana.Meta(program.ID()),
	}
	return solana.NewInstruction(AssociatedTokenProgramID, accounts, []byte{ataCreateIdempotent})
}

// TransferChecked builds a decimals-checked token transfer.
func TransferChecked(source, mint, destination, authority solana.PublicKey, amount uint64, decimals uint8, program Program) solana.Instruction {
	data := make([]byte, transferCheckedLength)
	data[0] = tokenTransferChecked
	binary.LittleEndian.PutUint64(data[1:9], amount)
	data[9] = decimals

	accounts := solana.AccountMetaSlice{
		solana.Meta(source).WRITE(),
		solana.Meta(mint),
		solana.Meta(destination).WRITE(),
		solana.Meta(authority).SIGNER(),
	}
	return solana.NewInstruction(program.ID(), accounts, data)
}

// TransferCheckedFields is the decoded form of a transfer-checked instruction.
type TransferCheckedFields struct {
	Source      solana.PublicKey
	Mint        solana.PublicKey
	Destination solana.PublicKey
	Authority   solana.PublicKey
	Amount      uint64
	Decimals    uint8
	Program     solana.PublicKey
}

// DecodeTransferChecked parses an instruction built by TransferChecked.
func DecodeTransferChecked(ix solana.Instruction) (TransferCheckedFields, bool) {
	data, err := ix.Data()
	if err != nil || len(data) != transferCheckedLength || data[0] != tokenTransferChecked {
		return TransferCheckedFields{}, false
	}
	accts := ix.Accounts()
	if len(accts) < 4 {
		return TransferCheckedFields{}, false
	}
	return TransferCheckedFields{
		Source:      accts[0].PublicKey,
		Mint:        accts[1].PublicKey,
		Destination: accts[2].PublicKey,
		Authority:   accts[3].PublicKey,
		Amount:      binary.LittleEndian.Uint64(data[1:9]),
		Decimals:    data[9],
		Program:     ix.ProgramID(),
	}, true
}

// IsCreateIdempotentATA reports whether ix is a create-idempotent instruction.
func IsCreateIdempotentATA(ix solana.Instruction) bool {
	if !ix.ProgramID().Equals(AssociatedTokenProgramID) {
		return false
	}
	data, err := ix.Data()
	return err == nil && len(data) == 1 && data[0] == ataCreateIdempotent && len(ix.Accounts()) == 6
}
