package application

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coordination-gateway/middleware/ratelimit/domain"
	"coordination-gateway/middleware/ratelimit/infra"
)

func TestResolveKey_Precedence(t *testing.T) {
	cases := []struct {
		name string
		id   domain.Identity
		want domain.Key
	}{
		{"user wins", domain.Identity{UserID: "u1", ClientID: "c1", IP: "1.2.3.4"}, "user:u1"},
		{"client over ip", domain.Identity{ClientID: "c1", IP: "1.2.3.4"}, "client:c1"},
		{"ip", domain.Identity{IP: "1.2.3.4"}, "ip:1.2.3.4"},
		{"blank user falls through", domain.Identity{UserID: "  ", IP: "::1"}, "ip:::1"},
		{"anonymous", domain.Identity{}, AnonymousKey},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ResolveKey(tc.id))
		})
	}
}

func TestResolveKey_NearIdenticalUsersStayDistinct(t *testing.T) {
	ids := []string{
		"alice@example.com", "alice#example.com", "alice_example.com",
		"~YWxpY2VAZXhhbXBsZS5jb20", "alice example.com", "ALICE@example.com",
		strings.Repeat("a", domain.MaxKeyPart) + "1", strings.Repeat("a", domain.MaxKeyPart) + "2",
	}
	seen := map[domain.Key]string{}
	for _, u := range ids {
		k := ResolveKey(domain.Identity{UserID: u})
		if prev, dup := seen[k]; dup {
			t.Fatalf("users %q and %q share key %q", prev, u, k)
		}
		seen[k] = u
	}
}

func TestBucketKey(t *testing.T) {
	assert.Equal(t, "search:user:u1", BucketKey("search", "user:u1"))
	assert.Equal(t, "~cmVhZCBmaWxl:anonymous", BucketKey("read file", AnonymousKey))
}

func TestBucketKey_ResourceCannotAbsorbIdentity(t *testing.T) {
	a := BucketKey("a:user:b", ResolveKey(domain.Identity{IP: "1.2.3.4"}))
	b := BucketKey("a", ResolveKey(domain.Identity{UserID: "b:ip:1.2.3.4"}))
	assert.NotEqual(t, a, b)
}

func TestService_Check_NearIdenticalUsersHaveIndependentCounters(t *testing.T) {
	ctx := context.Background()
	svc := Service{Store: infra.NewMemoryCounterStore(), MaxRequests: 2}

	alice := domain.Identity{UserID: "alice@example.com"}
	for i := 0; i < 2; i++ {
		_, err := svc.Check(ctx, "tools", alice)
		require.NoError(t, err)
	}
	_, err := svc.Check(ctx, "tools", alice)
	require.ErrorIs(t, err, domain.ErrRateLimited)

	dec, err := svc.Check(ctx, "tools", domain.Identity{UserID: "alice#example.com"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), dec.Count)
}
