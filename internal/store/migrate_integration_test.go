// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Guildhall Contributors

//go:build integration

package store_test

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/guildhall/guildhall/internal/store"
)

var _ = Describe("Migrator", func() {
	var (
		ctx       context.Context
		container *postgres.PostgresContainer
		connStr   string
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		container, err = postgres.Run(ctx,
			"postgres:18-alpine",
			postgres.WithDatabase("guildhall_test"),
			postgres.WithUsername("guildhall"),
			postgres.WithPassword("guildhall"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second),
			),
		)
		Expect(err).NotTo(HaveOccurred())
		connStr, err = container.ConnectionString(ctx, "sslmode=disable")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if container != nil {
			_ = container.Terminate(ctx)
		}
	})

	It("walks the full up, step, and down cycle", func() {
		m, err := store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = m.Close() }()

		v, dirty, err := m.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(BeZero())
		Expect(dirty).To(BeFalse())

		Expect(m.Up()).To(Succeed())
		latest, _, err := m.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(latest).To(Equal(uint(3)))

		Expect(m.Steps(-1)).To(Succeed())
		v, _, _ = m.Version()
		Expect(v).To(Equal(latest - 1))

		Expect(m.Steps(1)).To(Succeed())
		Expect(m.Down()).To(Succeed())
		v, _, _ = m.Version()
		Expect(v).To(BeZero())
	})

	It("rejects a grant whose scope and target disagree", func() {
		m, err := store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Up()).To(Succeed())
		_ = m.Close()

		pool, err := pgxpool.New(ctx, connStr)
		Expect(err).NotTo(HaveOccurred())
		defer pool.Close()

		_, err = pool.Exec(ctx, `INSERT INTO servers (id, name, owner_user_id) VALUES ('s1', 'one', 'u1')`)
		Expect(err).NotTo(HaveOccurred())
		_, err = pool.Exec(ctx, `INSERT INTO roles (id, server_id, name) VALUES ('r1', 's1', 'mods')`)
		Expect(err).NotTo(HaveOccurred())
		_, err = pool.Exec(ctx, `
			INSERT INTO role_grants (id, role_id, capability, effect, scope, target_id)
			VALUES ('g1', 'r1', 'SEND_MESSAGES', 'ALLOW', 'CHANNEL', '')`)
		Expect(err).To(HaveOccurred())
	})
})
