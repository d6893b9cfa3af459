package app

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/better-wallet/ledger-custody/internal/crypto"
	"github.com/better-wallet/ledger-custody/internal/keyexec"
	"github.com/better-wallet/ledger-custody/internal/ledger"
	"github.com/better-wallet/ledger-custody/internal/network"
	"github.com/better-wallet/ledger-custody/internal/storage"
	"github.com/better-wallet/ledger-custody/internal/txn"
	apperrors "github.com/better-wallet/ledger-custody/pkg/errors"
	"github.com/better-wallet/ledger-custody/pkg/types"
)

const testDestination = "GAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAWHF"

// fakeGateway is an in-memory ledger that enforces sequence numbers and the
// source account's signature the way the real network does.
type fakeGateway struct {
	passphrase string
	baseFee    int64
	delay      time.Duration

	mu       sync.Mutex
	accounts map[string]int64

	loads    atomic.Int32
	submits  atomic.Int32
	inflight atomic.Int32
	overlaps atomic.Int32
}

func newFakeGateway(passphrase string) *fakeGateway {
	return &fakeGateway{passphrase: passphrase, baseFee: 100, accounts: make(map[string]int64)}
}

func (g *fakeGateway) fund(publicKey string, sequence int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.accounts[publicKey] = sequence
}

func (g *fakeGateway) sequence(publicKey string) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.accounts[publicKey]
}

func (g *fakeGateway) LoadAccount(_ context.Context, publicKey string) (*types.AccountSnapshot, error) {
	g.loads.Add(1)
	if g.inflight.Add(1) > 1 {
		g.overlaps.Add(1)
	}
	defer g.inflight.Add(-1)
	if g.delay > 0 {
		time.Sleep(g.delay)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	seq, ok := g.accounts[publicKey]
	if !ok {
		return nil, apperrors.AccountNotFound(publicKey)
	}
	return &types.AccountSnapshot{
		PublicKey: publicKey,
		Sequence:  seq,
		Balances:  []types.Balance{{AssetType: "native", Balance: "10000.0000000"}},
	}, nil
}

func (g *fakeGateway) FetchBaseFee(context.Context) (int64, error) {
	return g.baseFee, nil
}

func (g *fakeGateway) Submit(_ context.Context, encoded string) (*types.SubmitResult, error) {
	g.submits.Add(1)
	env, err := txn.DecodeEnvelope(encoded)
	if err != nil {
		return nil, apperrors.Ledger(apperrors.ErrCodeLedgerRejected, "tx_malformed")
	}
	ok, err := env.SignedBy(g.passphrase, env.Tx.Source)
	if err != nil || !ok {
		return nil, apperrors.Ledger(apperrors.ErrCodeLedgerRejected, "tx_bad_auth")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if env.Tx.SeqNum != g.accounts[env.Tx.Source]+1 {
		return nil, apperrors.Ledger(apperrors.ErrCodeLedgerBadSequence, "tx_bad_seq")
	}
	g.accounts[env.Tx.Source] = env.Tx.SeqNum

	hash, _ := env.HashHex(g.passphrase)
	return &types.SubmitResult{Successful: true, Hash: hash, LedgerSeq: 4242}, nil
}

type fakeFaucet struct {
	calls atomic.Int32
}

func (f *fakeFaucet) Fund(context.Context, string) error {
	f.calls.Add(1)
	return nil
}

type testEnv struct {
	svc       *WalletService
	repo      *storage.Memory
	testnet   *fakeGateway
	public    *fakeGateway
	faucet    *fakeFaucet
	masterKey string
}

func newMasterKey(t *testing.T) string {
	t.Helper()
	raw := make([]byte, crypto.KeySize)
	_, err := rand.Read(raw)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(raw)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithKey(t, newMasterKey(t))
}

func newTestEnvWithKey(t *testing.T, masterKey string) *testEnv {
	t.Helper()

	env := &testEnv{
		repo:      storage.NewMemory(),
		testnet:   newFakeGateway(network.DefaultTestnetPassphrase),
		public:    newFakeGateway(network.DefaultPublicPassphrase),
		faucet:    &fakeFaucet{},
		masterKey: masterKey,
	}
	env.svc = env.serviceWithRepo(env.repo)
	return env
}

// serviceWithRepo builds a service over repo that shares the env's master key,
// gateways and faucet.
func (e *testEnv) serviceWithRepo(repo storage.Repository) *WalletService {
	return NewWalletService(Deps{
		Repo:     repo,
		Executor: keyexec.NewCustodialExecutor(keyexec.NewEnvMasterKey(e.masterKey)),
		Networks: network.NewResolver(),
		Gateways: ledger.NewStaticRegistry(map[types.Network]ledger.Gateway{
			types.NetworkTestnet: e.testnet,
			types.NetworkPublic:  e.public,
		}),
		Faucet: e.faucet,
	})
}

// interleavingRepo runs before once, ahead of the next write transaction, to
// land a competing write between a caller's read and its write.
type interleavingRepo struct {
	storage.Repository

	mu     sync.Mutex
	before func()
}

func (r *interleavingRepo) WithTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	r.mu.Lock()
	before := r.before
	r.before = nil
	r.mu.Unlock()

	if before != nil {
		before()
	}
	return r.Repository.WithTx(ctx, fn)
}

// seed decrypts a server-held wallet's secret the way only a test may.
func (e *testEnv) seed(t *testing.T, w *types.Wallet) string {
	t.Helper()
	key, err := crypto.DeriveKey(e.masterKey)
	require.NoError(t, err)
	defer key.Destroy()

	plain, err := crypto.Decrypt(w.Sealed(), key)
	require.NoError(t, err)
	defer plain.Destroy()
	return string(plain.Bytes())
}

func (e *testEnv) auditOps(t *testing.T, w *types.Wallet) []types.AuditOperation {
	t.Helper()
	entries, err := e.repo.ListAuditEntries(context.Background(), w.ID, 0)
	require.NoError(t, err)

	ops := make([]types.AuditOperation, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		ops = append(ops, entries[i].Operation)
	}
	return ops
}

func payment(amount string) []txn.OperationInput {
	return []txn.OperationInput{txn.Payment{Destination: testDestination, Amount: amount}}
}
