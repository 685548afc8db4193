package chain

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// ProgramClient is a typed handle onto one on-chain program. One handle exists
// per program id for the lifetime of the process; it is shared by every
// component that builds or inspects instructions for that program.
type ProgramClient struct {
	ProgramID solana.PublicKey
	RPC       RPC
	Admin     solana.PrivateKey
	IDL       *IDL
}

// BuildFunc constructs a program client. The default implementation resolves
// the program's interface description from the chain; tests substitute stubs.
type BuildFunc func(ctx context.Context, programID solana.PublicKey) (*ProgramClient, error)

type registryEntry struct {
	ready  chan struct{}
	client *ProgramClient
	err    error
}

// Registry lazily instantiates and caches one client per program id.
// Concurrent callers for the same program wait on the same in-flight
// construction; a failed construction leaves no cached state, so the next
// call retries.
type Registry struct {
	mu      sync.Mutex
	entries map[solana.PublicKey]*registryEntry
	build   BuildFunc
	logger  *slog.Logger
}

// NewRegistry creates a registry with the given construction function.
func NewRegistry(build BuildFunc, logger *slog.Logger) *Registry {
	return &Registry{
		entries: make(map[solana.PublicKey]*registryEntry),
		build:   build,
		logger:  logger,
	}
}

// NewClientBuilder returns the production BuildFunc: it binds the shared RPC
// client and admin keypair to the program handle and, unless running in
// production, fetches and validates the program's interface description.
func NewClientBuilder(rpcClient RPC, admin solana.PrivateKey, production bool, known map[solana.PublicKey][]string) BuildFunc {
	return func(ctx context.Context, programID solana.PublicKey) (*ProgramClient, error) {
		client := &ProgramClient{
			ProgramID: programID,
			RPC:       rpcClient,
			Admin:     admin,
		}
		if production {
			// Skipping the interface fetch saves an RPC round trip per cold
			// start; the compiled-in discriminators are authoritative.
			return client, nil
		}
		idl, err := FetchIDL(ctx, rpcClient, programID)
		if err != nil {
			return nil, fmt.Errorf("fetch interface for %s: %w", programID, err)
		}
		if err := idl.ValidateInstructions(known[programID]); err != nil {
			return nil, fmt.Errorf("validate interface for %s: %w", programID, err)
		}
		client.IDL = idl
		return client, nil
	}
}

// Get returns the cached handle for programID, constructing it if needed.
// If another caller is already constructing the handle, Get waits for that
// construction to finish and returns its result.
func (r *Registry) Get(ctx context.Context, programID solana.PublicKey) (*ProgramClient, error) {
	r.mu.Lock()
	if entry, ok := r.entries[programID]; ok {
		r.mu.Unlock()
		select {
		case <-entry.ready:
			return entry.client, entry.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	entry := &registryEntry{ready: make(chan struct{})}
	r.entries[programID] = entry
	r.mu.Unlock()

	entry.client, entry.err = r.build(ctx, programID)
	close(entry.ready)

	if entry.err != nil {
		// Leave no cached failure behind; the next caller retries.
		r.mu.Lock()
		if r.entries[programID] == entry {
			delete(r.entries, programID)
		}
		r.mu.Unlock()
		return nil, entry.err
	}
	if r.logger != nil {
		r.logger.Info("program client initialized", "program", programID.String())
	}
	return entry.client, nil
}

// Cleanup discards the cached handle for programID. Used as a recovery
// mechanism when the underlying connection is suspected unhealthy; the next
// Get rebuilds the client.
func (r *Registry) Cleanup(programID solana.PublicKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, programID)
}

// Commitment used for all gateway reads.
const Commitment = rpc.CommitmentConfirmed
