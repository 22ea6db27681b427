package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/goosewin/cellfill/internal/logging"
)

const followInterval = 500 * time.Millisecond

var (
	logsFollow bool
	logsLines  int
	logsDate   string
	logsList   bool
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show the cellfill log for today or a given day",
	Args:  cobra.NoArgs,
	RunE:  runLogs,
}

func init() {
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Keep printing lines as they are appended")
	logsCmd.Flags().IntVarP(&logsLines, "lines", "n", 100, "Number of trailing lines to show")
	logsCmd.Flags().StringVar(&logsDate, "date", "", "Day to show (YYYY-MM-DD, default today)")
	logsCmd.Flags().BoolVar(&logsList, "list", false, "List the days that have a log file")
	logsCmd.MarkFlagsMutuallyExclusive("list", "follow")
	rootCmd.AddCommand(logsCmd)
}

func runLogs(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	if logsList {
		return listLogDays(settings.LogDir)
	}

	day := time.Now()
	if value := strings.TrimSpace(logsDate); value != "" {
		if day, err = time.ParseInLocation("2006-01-02", value, time.Local); err != nil {
			return fmt.Errorf("invalid --date %q: want YYYY-MM-DD", logsDate)
		}
	}

	path := logging.FilePath(settings.LogDir, day)
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("no log for %s: %w", day.Format("2006-01-02"), err)
	}
	defer file.Close()

	out := cmd.OutOrStdout()
	pterm.Info.Printfln("Log file: %s", path)

	lines, err := lastLines(file, logsLines)
	if err != nil {
		return err
	}
	for _, line := range lines {
		fmt.Fprintln(out, line)
	}
	if !logsFollow {
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return follow(ctx, file, out)
}

// lastLines reads r to the end and keeps at most limit trailing lines.
func lastLines(r io.Reader, limit int) ([]string, error) {
	if limit <= 0 {
		_, err := io.Copy(io.Discard, r)
		return nil, err
	}

	ring := make([]string, limit)
	count := 0
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		ring[count%limit] = scanner.Text()
		count++
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if count <= limit {
		return ring[:count], nil
	}
	start := count % limit
	return append(ring[start:], ring[:start]...), nil
}

// follow prints complete lines appended to file until ctx ends. A partial
// trailing line is held back until its newline arrives.
func follow(ctx context.Context, file *os.File, out io.Writer) error {
	ticker := time.NewTicker(followInterval)
	defer ticker.Stop()

	reader := bufio.NewReader(file)
	pending := ""
	for {
		chunk, err := reader.ReadString('\n')
		pending += chunk
		if err == nil {
			fmt.Fprintln(out, strings.TrimRight(pending, "\r\n"))
			pending = ""
			continue
		}
		if err != io.EOF {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func listLogDays(dir string) error {
	pattern := strings.Replace(logging.FilePath(dir, time.Time{}), "0001-01-01", "*", 1)
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		pterm.Info.Printfln("No log files in %s", dir)
		return nil
	}

	sort.Sort(sort.Reverse(sort.StringSlice(matches)))
	data := pterm.TableData{{"FILE", "SIZE"}}
	for _, match := range matches {
		size := "-"
		if info, err := os.Stat(match); err == nil {
			size = fmt.Sprintf("%d KB", (info.Size()+1023)/1024)
		}
		data = append(data, []string{filepath.Base(match), size})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
