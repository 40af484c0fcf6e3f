// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Guildhall Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/guildhall/guildhall/internal/access"
	"github.com/guildhall/guildhall/internal/access/policy"
	"github.com/guildhall/guildhall/internal/access/snapshot"
	"github.com/guildhall/guildhall/internal/access/store"
)

type explainOptions struct {
	snapshotPath string
	memberID     string
	capability   string
	scope        string
	targetID     string
	effective    bool
	filter       string
	against      string
	action       string
	format       string
}

// NewExplainCmd creates the explain subcommand, which answers authorization
// questions offline against a member snapshot file.
func NewExplainCmd() *cobra.Command {
	opts := &explainOptions{}

	cmd := &cobra.Command{
		Use:   "explain",
		Short: "Explain a decision against a snapshot file",
		Long: `Load a member snapshot (YAML) and answer one question about a member:
why a capability resolves the way it does (--capability), which capabilities
the member holds (--effective), or whether the member may moderate another
(--against with --action).`,
		Example: `  guildhall explain --snapshot guild.yaml --member alice --capability SEND_MESSAGES --scope CHANNEL --target c1
  guildhall explain --snapshot guild.yaml --member alice --effective --filter 'MANAGE_*'
  guildhall explain --snapshot guild.yaml --member bob --against alice --action KICK`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runExplain(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.snapshotPath, "snapshot", "", "member snapshot file")
	f.StringVar(&opts.memberID, "member", "", "member to ask about")
	f.StringVar(&opts.capability, "capability", "", "capability to explain")
	f.StringVar(&opts.scope, "scope", "SERVER", "scope: SERVER, CATEGORY or CHANNEL")
	f.StringVar(&opts.targetID, "target", "", "category or channel ID for targeted scopes")
	f.BoolVar(&opts.effective, "effective", false, "list every capability the member holds")
	f.StringVar(&opts.filter, "filter", "", "glob limiting --effective output, e.g. 'MANAGE_*'")
	f.StringVar(&opts.against, "against", "", "target member for a moderation check")
	f.StringVar(&opts.action, "action", "", "moderation action: KICK, BAN, TIMEOUT or MANAGE_ROLES")
	f.StringVar(&opts.format, "format", "text", "output format: text or json")
	_ = cmd.MarkFlagRequired("snapshot") //nolint:errcheck // flag is registered above
	_ = cmd.MarkFlagRequired("member")   //nolint:errcheck // flag is registered above
	cmd.MarkFlagsMutuallyExclusive("capability", "effective", "against")

	return cmd
}

func runExplain(ctx context.Context, opts *explainOptions, out io.Writer) error {
	if opts.format != "text" && opts.format != "json" {
		return oops.Code("INVALID_FORMAT").With("format", opts.format).Errorf("format must be text or json")
	}

	engine, err := snapshotEngine(ctx, opts.snapshotPath)
	if err != nil {
		return err
	}

	switch {
	case opts.against != "":
		return explainManage(ctx, engine, opts, out)
	case opts.effective:
		return explainEffective(ctx, engine, opts, out)
	case opts.capability != "":
		return explainCapability(ctx, engine, opts, out)
	}
	return oops.Code("INVALID_REQUEST").Errorf("one of --capability, --effective or --against is required")
}

// snapshotEngine seeds an in-memory store from the snapshot file.
func snapshotEngine(ctx context.Context, path string) (*policy.Engine, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, oops.Code("SNAPSHOT_READ_FAILED").With("path", path).Wrap(err)
	}
	snap, err := snapshot.Parse(data)
	if err != nil {
		return nil, oops.With("path", path).Wrap(err)
	}
	ms := store.NewMemoryStore()
	if err := snap.Seed(ctx, ms); err != nil {
		return nil, oops.With("path", path).Wrap(err)
	}
	return policy.NewEngine(ms), nil
}

func explainCapability(ctx context.Context, engine *policy.Engine, opts *explainOptions, out io.Writer) error {
	req, err := policy.ParseRequest(opts.memberID, opts.capability, opts.scope, opts.targetID)
	if err != nil {
		return err //nolint:wrapcheck // already coded
	}
	ex, err := engine.Explain(ctx, req)
	if err != nil {
		return err //nolint:wrapcheck // already coded
	}
	if opts.format == "json" {
		return writeJSON(out, ex)
	}

	verdict := "DENIED"
	if ex.Result.Granted {
		verdict = "GRANTED"
	}
	where := string(ex.Scope)
	if ex.TargetID != "" {
		where += " " + ex.TargetID
	}
	fmt.Fprintf(out, "%s %s in %s: %s (%s)\n", opts.memberID, ex.Capability, where, verdict, ex.Result.Reason)
	if ex.Result.SourceID != "" {
		fmt.Fprintf(out, "  decided by %s %s", ex.Result.SourceKind, ex.Result.SourceID)
		if ex.Result.SourceName != "" {
			fmt.Fprintf(out, " (%s)", ex.Result.SourceName)
		}
		fmt.Fprintln(out)
	}
	if ex.Superuser {
		fmt.Fprintln(out, "  member carries the superuser tag")
	}
	if ex.Administrator {
		fmt.Fprintln(out, "  member holds ADMINISTRATOR")
	}
	if ex.Override != nil {
		fmt.Fprintf(out, "  override: %s\n", ex.Override.Effect)
	}
	for _, m := range ex.RoleMatches {
		fmt.Fprintf(out, "  role %s (%s, position %d): %s\n", m.RoleID, m.RoleName, m.Position, m.Effect)
	}
	return nil
}

func explainEffective(ctx context.Context, engine *policy.Engine, opts *explainOptions, out io.Writer) error {
	scope, err := access.ParseScope(opts.scope)
	if err != nil {
		return err //nolint:wrapcheck // already coded
	}
	if err := access.ValidateTarget(scope, opts.targetID); err != nil {
		return err //nolint:wrapcheck // already coded
	}
	set, err := engine.EffectiveCapabilities(ctx, opts.memberID, scope, opts.targetID)
	if err != nil {
		return err //nolint:wrapcheck // already coded
	}

	caps := set.Slice()
	if opts.filter != "" {
		matched, err := access.MatchCapabilities(opts.filter)
		if err != nil {
			return err //nolint:wrapcheck // already coded
		}
		allowed := access.NewCapabilitySet(matched...)
		kept := caps[:0]
		for _, c := range caps {
			if allowed.Has(c) {
				kept = append(kept, c)
			}
		}
		caps = kept
	}

	if opts.format == "json" {
		names := make([]string, len(caps))
		for i, c := range caps {
			names[i] = string(c)
		}
		return writeJSON(out, map[string]any{
			"member_id":    opts.memberID,
			"scope":        scope,
			"target_id":    opts.targetID,
			"capabilities": names,
		})
	}
	for _, c := range caps {
		fmt.Fprintln(out, c)
	}
	return nil
}

func explainManage(ctx context.Context, engine *policy.Engine, opts *explainOptions, out io.Writer) error {
	action, err := access.ParseModerationAction(opts.action)
	if err != nil {
		return err //nolint:wrapcheck // already coded
	}
	d, err := engine.CanManage(ctx, opts.memberID, opts.against, action)
	if err != nil {
		return err //nolint:wrapcheck // already coded
	}
	if opts.format == "json" {
		return writeJSON(out, d)
	}
	verdict := "may not"
	if d.Allowed {
		verdict = "may"
	}
	fmt.Fprintf(out, "%s %s %s %s (%s)\n", opts.memberID, verdict, action, opts.against, d.Reason)
	return nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return oops.Code("OUTPUT_FAILED").Wrap(err)
	}
	return nil
}
