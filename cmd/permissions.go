/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>

*/
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/mautops/moderation-gin/internal/auth"
	"github.com/mautops/moderation-gin/internal/moderation"
	"github.com/spf13/cobra"
)

// permissionsCmd represents the permissions command
var permissionsCmd = &cobra.Command{
	Use:   "permissions",
	Short: "Manage OpenFGA group capabilities",
	Long: `Manage which user groups may create, delete and assign workflows and tasks.
Grant and revoke write tuples to the OpenFGA store configured under openfga.`,
}

var permissionsModelCmd = &cobra.Command{
	Use:   "model",
	Short: "Print the OpenFGA authorization model",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), auth.GetPermissionModel())
		return err
	},
}

var permissionsGrantCmd = &cobra.Command{
	Use:   "grant <group> <resource> <capability>",
	Short: "Grant a capability on workflows or tasks to a group",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return writeCapability(cmd, args, (*auth.OpenFGAClient).GrantGroupCapability)
	},
}

var permissionsRevokeCmd = &cobra.Command{
	Use:   "revoke <group> <resource> <capability>",
	Short: "Revoke a capability on workflows or tasks from a group",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return writeCapability(cmd, args, (*auth.OpenFGAClient).RevokeGroupCapability)
	},
}

type capabilityWriter func(c *auth.OpenFGAClient, ctx context.Context, group string, resource moderation.Resource, capability moderation.Capability) error

// parseCapability 校验资源与能力的组合
func parseCapability(resourceArg, capabilityArg string) (moderation.Resource, moderation.Capability, error) {
	resource := moderation.Resource(resourceArg)
	capability := moderation.Capability(capabilityArg)

	var allowed []moderation.Capability
	switch resource {
	case moderation.ResourceWorkflow:
		allowed = []moderation.Capability{
			moderation.CapabilityCreate,
			moderation.CapabilityDelete,
			moderation.CapabilityAddToPage,
			moderation.CapabilityRemoveFromPage,
		}
	case moderation.ResourceTask:
		allowed = []moderation.Capability{moderation.CapabilityCreate, moderation.CapabilityDelete}
	default:
		return "", "", fmt.Errorf("unknown resource: %s", resourceArg)
	}
	for _, c := range allowed {
		if c == capability {
			return resource, capability, nil
		}
	}
	return "", "", fmt.Errorf("capability %s is not defined on %s", capabilityArg, resourceArg)
}

func writeCapability(cmd *cobra.Command, args []string, write capabilityWriter) error {
	resource, capability, err := parseCapability(args[1], args[2])
	if err != nil {
		return err
	}

	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.OpenFGA.StoreID == "" {
		return fmt.Errorf("openfga.store_id is not configured")
	}
	client, err := auth.NewOpenFGAClient(cfg.OpenFGA.APIURL, cfg.OpenFGA.StoreID, cfg.OpenFGA.ModelID)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	if err := write(client, ctx, args[0], resource, capability); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s:%s for group %s\n", cmd.Name(), resource, capability, args[0])
	return nil
}

func init() {
	rootCmd.AddCommand(permissionsCmd)
	permissionsCmd.AddCommand(permissionsModelCmd, permissionsGrantCmd, permissionsRevokeCmd)
}
