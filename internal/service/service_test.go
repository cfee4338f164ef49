package service

import (
	"context"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/faucetdb/keygate/internal/connector"
	"github.com/faucetdb/keygate/internal/crypto"
	"github.com/faucetdb/keygate/internal/model"
	"github.com/faucetdb/keygate/internal/store"
)

type testEnv struct {
	store       *store.Store
	tokens      *TokenService
	accounts    *AccountService
	credentials *CredentialService
	ledger      *Ledger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.New("")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cipher, err := crypto.NewCipher("test-encryption-key")
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	tokens := NewTokenService([]byte("test-signing-secret"), 0)
	ledger := NewLedger(st)
	return &testEnv{
		store:       st,
		tokens:      tokens,
		accounts:    NewAccountService(st, tokens, bcrypt.MinCost),
		credentials: NewCredentialService(st, connector.NewRegistry(connector.DefaultServices()...), cipher, ledger, 60),
		ledger:      ledger,
	}
}

func (e *testEnv) register(t *testing.T, email string) *model.Account {
	t.Helper()
	a, err := e.accounts.Register(context.Background(), RegisterInput{Email: email, Password: "password123"})
	if err != nil {
		t.Fatalf("Register(%s): %v", email, err)
	}
	return a
}
