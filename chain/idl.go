package chain

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// IDL is the anchor interface description published on-chain by a program.
type IDL struct {
	Version      string              `json:"version"`
	Name         string              `json:"name"`
	Address      string              `json:"address"`
	Instructions []IDLInstruction    `json:"instructions"`
	Accounts     []IDLTypeDefinition `json:"accounts"`
	Types        []IDLTypeDefinition `json:"types"`
	Errors       []IDLError          `json:"errors"`
}

type IDLInstruction struct {
	Name string `json:"name"`
	// Discriminator is published as an array of byte values in newer anchor
	// IDLs; older IDLs omit it.
	Discriminator []int      `json:"discriminator"`
	Args          []IDLField `json:"args"`
}

type IDLField struct {
	Name string          `json:"name"`
	Type json.RawMessage `json:"type"`
}

type IDLTypeDefinition struct {
	Name string `json:"name"`
	Type struct {
		Kind   string     `json:"kind"`
		Fields []IDLField `json:"fields"`
	} `json:"type"`
}

type IDLError struct {
	Code int    `json:"code"`
	Name string `json:"name"`
	Msg  string `json:"msg"`
}

// ParseIDL decodes an interface description from its JSON form.
func ParseIDL(idlBytes []byte) (*IDL, error) {
	var idl IDL
	if err := json.Unmarshal(idlBytes, &idl); err != nil {
		return nil, fmt.Errorf("error unmarshalling IDL JSON: %w", err)
	}
	return &idl, nil
}

// IDLAddress derives the canonical anchor IDL account for a program.
func IDLAddress(programID solana.PublicKey) (solana.PublicKey, error) {
	base, _, err := solana.FindProgramAddress([][]byte{}, programID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive IDL base address: %w", err)
	}
	addr, err := solana.CreateWithSeed(base, "anchor:idl", programID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive IDL address: %w", err)
	}
	return addr, nil
}

// FetchIDL reads and decompresses a program's published interface description.
// Layout: 8-byte account discriminator, 32-byte authority, u32 data length,
// zlib-compressed JSON.
func FetchIDL(ctx context.Context, client RPC, programID solana.PublicKey) (*IDL, error) {
	addr, err := IDLAddress(programID)
	if err != nil {
		return nil, err
	}
	resp, err := client.GetAccountInfoWithOpts(ctx, addr, &rpc.GetAccountInfoOpts{Commitment: Commitment})
	if err != nil {
		return nil, fmt.Errorf("get IDL account %s: %w", addr, err)
	}
	if resp == nil || resp.Value == nil {
		return nil, fmt.Errorf("IDL account %s not found", addr)
	}

	data := resp.Value.Data.GetBinary()
	const header = 8 + 32 + 4
	if len(data) < header {
		return nil, fmt.Errorf("IDL account %s too short (%d bytes)", addr, len(data))
	}
	size := binary.LittleEndian.Uint32(data[40:44])
	if int(size) > len(data)-header {
		return nil, fmt.Errorf("IDL account %s declares %d bytes, has %d", addr, size, len(data)-header)
	}

	zr, err := zlib.NewReader(bytes.NewReader(data[header : header+int(size)]))
	if err != nil {
		return nil, fmt.Errorf("open IDL payload: %w", err)
	}
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decompress IDL payload: %w", err)
	}

	return ParseIDL(raw)
}

// ValidateInstructions checks that every instruction the gateway emits is
// declared by the program's interface, and that any published discriminator
// matches the compiled-in anchor derivation.
func (idl *IDL) ValidateInstructions(names []string) error {
	declared := make(map[string]IDLInstruction, len(idl.Instructions))
	for _, ins := range idl.Instructions {
		declared[ins.Name] = ins
	}
	for _, name := range names {
		ins, ok := declared[name]
		if !ok {
			return fmt.Errorf("program interface is missing instruction %q", name)
		}
		if len(ins.Discriminator) == 8 {
			want := InstructionDiscriminator(name)
			for i, b := range ins.Discriminator {
				if b != int(want[i]) {
					return fmt.Errorf("instruction %q discriminator mismatch", name)
				}
			}
		}
	}
	return nil
}
