package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newLogsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the controller log",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.App.LogPath == "" {
				return fmt.Errorf("file logging disabled in config (app.log_path)")
			}
			follow, _ := cmd.Flags().GetBool("follow")
			level, _ := cmd.Flags().GetString("level")
			return tailLog(cfg.App.LogPath, follow, level)
		},
	}
	cmd.Flags().BoolP("follow", "f", false, "keep streaming new lines")
	cmd.Flags().String("level", "", "only show lines at this level (debug, info, warn, error)")
	return cmd
}

func tailLog(path string, follow bool, level string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer file.Close()

	filter := levelFilter(level)
	reader := bufio.NewReader(file)
	for {
		line, err := reader.ReadString('\n')
		if line != "" && filter(line) {
			fmt.Print(line)
		}
		if err == io.EOF {
			if !follow {
				return nil
			}
			time.Sleep(300 * time.Millisecond)
			continue
		}
		if err != nil {
			return err
		}
	}
}

// levelFilter matches the slog text handler's level=LEVEL token.
func levelFilter(level string) func(string) bool {
	level = strings.ToUpper(strings.TrimSpace(level))
	if level == "" {
		return func(string) bool { return true }
	}
	needle := "level=" + level
	return func(line string) bool {
		return strings.Contains(line, needle)
	}
}
