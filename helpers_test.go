package trustcore

import (
	"context"
	"testing"
	"time"

	"github.com/MrEthical07/trustcore/audit"
	"github.com/MrEthical07/trustcore/clock"
	"github.com/MrEthical07/trustcore/store"
	"github.com/MrEthical07/trustcore/store/memory"
)

const (
	testPassword  = "Correct#Horse1"
	wrongPassword = "Wrong#Horse1"
)

var testStart = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

type testEnv struct {
	engine *Engine
	store  *memory.Store
	clock  *clock.Fake
}

// testConfig keeps hashing cheap: bcrypt at the minimum cost.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.Algorithm = PasswordBcrypt
	cfg.Password.BcryptCost = 4
	return cfg
}

func newTestEnv(t *testing.T, mutate ...func(*Config)) *testEnv {
	t.Helper()
	cfg := testConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}
	st := memory.New()
	clk := clock.NewFake(testStart)
	engine, err := New().WithConfig(cfg).WithStore(st).WithClock(clk).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return &testEnv{engine: engine, store: st, clock: clk}
}

func (env *testEnv) register(t *testing.T, username string) *Profile {
	t.Helper()
	p, err := env.engine.Register(context.Background(), RegisterInput{
		Username: username,
		Email:    username + "@example.com",
		Password: testPassword,
	})
	if err != nil {
		t.Fatalf("Register(%s) failed: %v", username, err)
	}
	return p
}

func (env *testEnv) login(t *testing.T, username string) *LoginResult {
	t.Helper()
	res, err := env.engine.Login(context.Background(), username+"@example.com", testPassword)
	if err != nil {
		t.Fatalf("Login(%s) failed: %v", username, err)
	}
	if res.Status != LoginAuthenticated {
		t.Fatalf("Login(%s) status = %v, want authenticated", username, res.Status)
	}
	return res
}

func (env *testEnv) identity(t *testing.T, id string) *store.Identity {
	t.Helper()
	i, err := env.store.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("FindByID(%s) failed: %v", id, err)
	}
	return i
}

// patch edits an identity directly in the store.
func (env *testEnv) patch(t *testing.T, id string, fn func(*store.Identity)) {
	t.Helper()
	i := env.identity(t, id)
	fn(i)
	if err := env.store.UpdateIdentity(context.Background(), i); err != nil {
		t.Fatalf("UpdateIdentity(%s) failed: %v", id, err)
	}
}

func (env *testEnv) promote(t *testing.T, id string) {
	t.Helper()
	env.patch(t, id, func(i *store.Identity) { i.Role = store.RoleAdmin })
}

func (env *testEnv) events(t *testing.T, q audit.Query) []audit.Event {
	t.Helper()
	out, err := env.store.QueryAuditEvents(context.Background(), q)
	if err != nil {
		t.Fatalf("QueryAuditEvents failed: %v", err)
	}
	return out
}

func (env *testEnv) totpCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := env.engine.totp.CodeAt(secret, env.clock.Now())
	if err != nil {
		t.Fatalf("CodeAt failed: %v", err)
	}
	return code
}

// enableMFA enrolls and confirms MFA for id and returns the secret.
func (env *testEnv) enableMFA(t *testing.T, id string) string {
	t.Helper()
	ctx := context.Background()
	enrollment, err := env.engine.EnrollMFA(ctx, id)
	if err != nil {
		t.Fatalf("EnrollMFA failed: %v", err)
	}
	if err := env.engine.VerifyMFAEnrollment(ctx, id, env.totpCode(t, enrollment.Secret)); err != nil {
		t.Fatalf("VerifyMFAEnrollment failed: %v", err)
	}
	return enrollment.Secret
}

func bearer(token string) string {
	return "Bearer " + token
}
