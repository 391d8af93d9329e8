package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spec-kit/sla-engine/internal/calendar"
	"github.com/spec-kit/sla-engine/internal/catalog"
	"github.com/spec-kit/sla-engine/internal/config"
	"github.com/spec-kit/sla-engine/internal/domain"
	"github.com/spec-kit/sla-engine/internal/persistence"
	"github.com/spec-kit/sla-engine/internal/repository"
)

// PolicyCmd returns the policy command group.
func PolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Validate and import tracking policy files",
	}
	cmd.AddCommand(policyValidateCmd())
	cmd.AddCommand(policyImportCmd())
	return cmd
}

func policyValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file-or-dir>...",
		Short: "Check TOML policy files without loading them anywhere",
		Long: `Parse every policy in the given TOML files (or *.toml files in the given
directories), compile their rule trees and check their calendars.

Exits non-zero when any policy is invalid.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, invalid, err := checkPolicies(cmd, args)
			if err != nil {
				return err
			}
			if invalid > 0 {
				return fmt.Errorf("%d invalid policies", invalid)
			}
			return nil
		},
	}
}

func policyImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file-or-dir>...",
		Short: "Store valid policies from TOML files in Postgres",
		Long: `Validate the given policy files and insert every valid policy version into
the database named by POSTGRES_DSN. Existing (id, version) pairs are left untouched.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runPolicyImport,
	}
	cmd.Flags().Bool("dry-run", false, "Validate only; do not write")
	return cmd
}

func runPolicyImport(cmd *cobra.Command, args []string) error {
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	valid, invalid, err := checkPolicies(cmd, args)
	if err != nil {
		return err
	}
	if invalid > 0 {
		return fmt.Errorf("%d invalid policies; nothing imported", invalid)
	}
	if dryRun {
		fmt.Fprintf(cmd.OutOrStdout(), "Would import %d policies\n", len(valid))
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Postgres.DSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required for import")
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, zap.NewNop())
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pg.Close()

	repo := repository.NewPolicyRepository(pg.PoolHandle())
	for _, doc := range valid {
		if err := repo.Create(ctx, doc); err != nil {
			return fmt.Errorf("import %s: %w", domain.PolicyRef(doc.ID, doc.Version), err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", color.New(color.FgGreen).Sprint("IMPORTED"), domain.PolicyRef(doc.ID, doc.Version))
	}
	return nil
}

// checkPolicies prints one line per policy and returns the valid documents.
func checkPolicies(cmd *cobra.Command, args []string) ([]domain.PolicyDocument, int, error) {
	files, err := expandPolicyPaths(args)
	if err != nil {
		return nil, 0, err
	}
	resolver := calendar.NewResolver()
	out := cmd.OutOrStdout()

	var (
		valid   []domain.PolicyDocument
		invalid int
	)
	for _, file := range files {
		docs, err := catalog.LoadPolicyFile(file)
		if err != nil {
			fmt.Fprintf(out, "%s %s: %v\n", color.New(color.FgRed).Sprint("INVALID"), file, err)
			invalid++
			continue
		}
		for _, doc := range docs {
			ref := domain.PolicyRef(doc.ID, doc.Version)
			policy, err := doc.ToPolicy()
			if err == nil {
				err = resolver.Validate(policy.Calendar)
			}
			if err != nil {
				fmt.Fprintf(out, "%s %s (%s): %v\n", color.New(color.FgRed).Sprint("INVALID"), ref, file, err)
				invalid++
				continue
			}
			metrics := make([]string, 0, len(policy.Targets))
			for _, m := range policy.TrackedMetrics() {
				metrics = append(metrics, fmt.Sprintf("%s=%dm", m, policy.Targets[m]))
			}
			fmt.Fprintf(out, "%s %s %s\n", color.New(color.FgGreen).Sprint("OK     "), ref, strings.Join(metrics, " "))
			valid = append(valid, doc)
		}
	}
	return valid, invalid, nil
}

func expandPolicyPaths(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		matches, err := filepath.Glob(filepath.Join(arg, "*.toml"))
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}
	return files, nil
}
