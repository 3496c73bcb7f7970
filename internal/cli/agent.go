package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"tradewind/internal/store"
	"tradewind/internal/store/gormstore"
	"tradewind/internal/store/model"
)

// agentView is the YAML shape the agent commands print.
type agentView struct {
	ID             string   `yaml:"id"`
	Name           string   `yaml:"name,omitempty"`
	Provider       string   `yaml:"provider"`
	Account        string   `yaml:"account,omitempty"`
	Status         string   `yaml:"status"`
	InitialBalance float64  `yaml:"initial_balance"`
	MaxLeverage    int      `yaml:"max_leverage"`
	MaxPositionPct float64  `yaml:"max_position_pct"`
	Coins          []string `yaml:"coins"`
}

func newAgentCmd() *cobra.Command {
	agentCmd := &cobra.Command{
		Use:   "agent",
		Short: "Inspect and manage agents",
	}
	agentCmd.AddCommand(newAgentListCmd())
	agentCmd.AddCommand(newAgentInfoCmd())
	agentCmd.AddCommand(newAgentEnableCmd())
	agentCmd.AddCommand(newAgentDisableCmd())
	agentCmd.AddCommand(newAgentAddCmd())
	return agentCmd
}

func withStore(cmd *cobra.Command, fn func(context.Context, store.Store) error) error {
	_, cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	st, err := gormstore.NewGormStore(cfg.App.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	return fn(cmd.Context(), st)
}

func newAgentListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, st store.Store) error {
				rows, err := st.ListAgents(ctx)
				if err != nil {
					return err
				}
				views := make([]agentView, 0, len(rows))
				for _, row := range rows {
					views = append(views, toView(row))
				}
				return printYAML(map[string]any{"agents": views})
			})
		},
	}
}

func newAgentInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <id>",
		Short: "Show one agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, st store.Store) error {
				row, err := st.GetAgent(ctx, args[0])
				if err != nil {
					return err
				}
				if row == nil {
					return fmt.Errorf("agent %q not found", args[0])
				}
				return printYAML(toView(*row))
			})
		},
	}
}

func newAgentEnableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable <id>",
		Short: "Set an agent active",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setStatus(cmd, args[0], model.AgentStatusActive)
		},
	}
}

func newAgentDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable <id>",
		Short: "Pause an agent (skipped by future cycles)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setStatus(cmd, args[0], model.AgentStatusPaused)
		},
	}
}

func setStatus(cmd *cobra.Command, id string, status model.AgentStatus) error {
	return withStore(cmd, func(ctx context.Context, st store.Store) error {
		row, err := st.GetAgent(ctx, id)
		if err != nil {
			return err
		}
		if row == nil {
			return fmt.Errorf("agent %q not found", id)
		}
		if err := st.SetAgentStatus(ctx, id, status); err != nil {
			return err
		}
		fmt.Printf("agent %s is now %s\n", id, status)
		return nil
	})
}

func newAgentAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Register a new agent row",
		Long: `Register an agent in the database. The agent only trades once a
matching entry exists in the config file; the row created here carries
its status and bookkeeping.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			providerID, _ := cmd.Flags().GetString("provider")
			account, _ := cmd.Flags().GetString("account")
			balance, _ := cmd.Flags().GetFloat64("balance")
			leverage, _ := cmd.Flags().GetInt("max-leverage")
			coins, _ := cmd.Flags().GetStringSlice("coins")

			return withStore(cmd, func(ctx context.Context, st store.Store) error {
				if existing, err := st.GetAgent(ctx, args[0]); err != nil {
					return err
				} else if existing != nil {
					return fmt.Errorf("agent %q already exists", args[0])
				}
				coinsJSON, err := json.Marshal(coins)
				if err != nil {
					return err
				}
				now := time.Now().Unix()
				row := &model.AgentModel{
					ID:             args[0],
					Name:           name,
					Provider:       providerID,
					Account:        account,
					Status:         model.AgentStatusActive,
					InitialBalance: balance,
					MaxLeverage:    leverage,
					Coins:          coinsJSON,
					CreatedAtUnix:  now,
					UpdatedAtUnix:  now,
				}
				if err := st.UpsertAgent(ctx, row); err != nil {
					return err
				}
				fmt.Printf("agent %s registered\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().String("name", "", "display name")
	cmd.Flags().String("provider", "", "model provider id from the config")
	cmd.Flags().String("account", "", "exchange account name from the config")
	cmd.Flags().Float64("balance", 1000, "initial balance in USD")
	cmd.Flags().Int("max-leverage", 10, "leverage cap")
	cmd.Flags().StringSlice("coins", []string{"BTC", "ETH"}, "tracked coins")
	cmd.MarkFlagRequired("provider")
	return cmd
}

func toView(row model.AgentModel) agentView {
	var coins []string
	_ = json.Unmarshal(row.Coins, &coins)
	return agentView{
		ID:             row.ID,
		Name:           row.Name,
		Provider:       row.Provider,
		Account:        row.Account,
		Status:         string(row.Status),
		InitialBalance: row.InitialBalance,
		MaxLeverage:    row.MaxLeverage,
		MaxPositionPct: row.MaxPositionPct,
		Coins:          coins,
	}
}

func printYAML(v any) error {
	out, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	return nil
}
