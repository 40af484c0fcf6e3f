// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Guildhall Contributors

//go:build integration

package access_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/redis/go-redis/v9"

	"github.com/guildhall/guildhall/internal/access"
	"github.com/guildhall/guildhall/internal/access/cache"
	"github.com/guildhall/guildhall/internal/access/policy"
	"github.com/guildhall/guildhall/internal/access/snapshot"
	"github.com/guildhall/guildhall/internal/access/store"
)

const guild = `
server:
  id: s1
  name: Guild
roles:
  - id: mod
    name: Moderator
    position: 50
    grants:
      - capability: KICK_MEMBERS
        effect: ALLOW
      - capability: MANAGE_MESSAGES
        effect: ALLOW
  - id: muted
    name: Muted
    position: 1
    grants:
      - capability: MANAGE_MESSAGES
        effect: DENY
members:
  - id: alice
    user_id: u-alice
    roles: [mod, muted]
  - id: bob
    user_id: u-bob
    roles: [mod]
  - id: root
    user_id: u-root
    legacy_role: ADMIN
`

func seedGuild(ctx context.Context) {
	_, err := pool.Exec(ctx, "DELETE FROM servers")
	Expect(err).NotTo(HaveOccurred())
	snap, err := snapshot.Parse([]byte(guild))
	Expect(err).NotTo(HaveOccurred())
	Expect(snap.Seed(ctx, ps)).To(Succeed())
}

func effective(ctx context.Context, e *policy.Engine, memberID string) func() []access.Capability {
	return func() []access.Capability {
		set, err := e.EffectiveCapabilities(ctx, memberID, access.ScopeServer, "")
		Expect(err).NotTo(HaveOccurred())
		return set.Slice()
	}
}

var _ = Describe("Engine over PostgreSQL", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
		seedGuild(ctx)
	})

	It("resolves the seeded guild", func() {
		e := policy.NewEngine(ps)

		res, err := e.Resolve(ctx, policy.NewRequest("alice", access.ServerQuery(access.CapabilityManageMessages)))
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Granted).To(BeFalse())
		Expect(res.SourceID).To(Equal("muted"))

		d, err := e.CanManage(ctx, "root", "bob", access.ActionBan)
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Allowed).To(BeTrue())

		d, err = e.CanManage(ctx, "bob", "alice", access.ActionKick)
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Reason).To(Equal(access.ManageHierarchy))
	})

	It("captures the same snapshot it was seeded from", func() {
		snap, err := snapshot.Capture(ctx, ps, "s1", "alice", "bob")
		Expect(err).NotTo(HaveOccurred())
		Expect(snap.Roles).To(HaveLen(2))
		Expect(snap.Members[0].Roles).To(Equal([]string{"mod", "muted"}))
	})

	DescribeTable("keeps cached effective sets fresh through LISTEN/NOTIFY",
		func(newCache func() cache.Cache) {
			runCtx, cancel := context.WithCancel(ctx)
			c := newCache()
			inv := cache.NewInvalidator(c, store.NewPgListener(connStr),
				cache.WithReconnectBackoff(50*time.Millisecond, time.Second))
			done := make(chan error, 1)
			go func() { done <- inv.Run(runCtx) }()
			DeferCleanup(func() {
				cancel()
				Eventually(done).WithTimeout(5 * time.Second).Should(Receive(BeNil()))
			})
			Eventually(inv.Ready).WithTimeout(5 * time.Second).Should(BeTrue())

			e := policy.NewEngine(ps, policy.WithCache(c))
			Expect(effective(ctx, e, "alice")()).To(Equal([]access.Capability{access.CapabilityKickMembers}))

			Expect(ps.SetOverride(ctx, "alice", &access.Grant{
				Capability: access.CapabilityManageMessages,
				Effect:     access.EffectAllow,
				Scope:      access.ScopeServer,
			})).To(Succeed())
			Eventually(effective(ctx, e, "alice")).WithTimeout(5 * time.Second).Should(Equal([]access.Capability{
				access.CapabilityManageMessages, access.CapabilityKickMembers,
			}))

			Expect(effective(ctx, e, "bob")()).To(ContainElement(access.CapabilityManageMessages))
			Expect(ps.DeleteRole(ctx, "mod")).To(Succeed())
			Eventually(effective(ctx, e, "bob")).WithTimeout(5 * time.Second).Should(BeEmpty())
		},
		Entry("memory cache", func() cache.Cache { return cache.NewMemoryCache() }),
		Entry("redis cache", func() cache.Cache {
			mr := miniredis.RunT(GinkgoT())
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			DeferCleanup(client.Close)
			return cache.NewRedisCache(client, cache.WithTTL(time.Minute))
		}),
	)

	It("serves concurrent checks while roles change", func() {
		e := policy.NewEngine(ps, policy.WithCache(cache.NewMemoryCache()))

		var wg sync.WaitGroup
		errs := make(chan error, 64)
		for i := range 8 {
			wg.Go(func() {
				defer GinkgoRecover()
				for j := range 25 {
					memberID := []string{"alice", "bob", "root"}[(i+j)%3]
					if _, err := e.Resolve(ctx, policy.NewRequest(memberID, access.ServerQuery(access.CapabilityKickMembers))); err != nil {
						errs <- fmt.Errorf("resolve %s: %w", memberID, err)
						return
					}
				}
			})
		}
		for i := range 10 {
			r := access.Role{ID: fmt.Sprintf("extra-%d", i), ServerID: "s1", Name: "Extra", Position: 10 + i}
			Expect(ps.CreateRole(ctx, &r)).To(Succeed())
			Expect(ps.AssignRole(ctx, "bob", r.ID)).To(Succeed())
		}
		wg.Wait()
		close(errs)
		Expect(errs).To(BeEmpty())
	})
})
