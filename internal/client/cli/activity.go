package cli

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/declaro/internal/client/models"
)

const defaultRecentLogs = 20

const logsUsage = "logs [n | action <action> | user <id> | declaration <id|code> | search <text> | since <date> [until <date>]]"

// Logs queries the activity log.
func (a *App) Logs(ctx context.Context, args []string) error {
	var (
		logs []models.ActivityLog
		err  error
	)

	switch {
	case len(args) == 0:
		logs, err = a.activity.Recent(ctx, defaultRecentLogs)

	case len(args) == 1:
		n, convErr := strconv.Atoi(args[0])
		if convErr != nil || n < 0 {
			return usage(logsUsage)
		}
		logs, err = a.activity.Recent(ctx, n)

	case args[0] == "action" && len(args) == 2:
		action := models.Action(args[1])
		if !action.Valid() {
			return fmt.Errorf("unknown action %q, known: %s", args[1], joinActions())
		}
		logs, err = a.activity.ByAction(ctx, action)

	case args[0] == "user" && len(args) == 2:
		logs, err = a.activity.ByActor(ctx, args[1])

	case args[0] == "declaration" && len(args) == 2:
		id := args[1]
		if d, lerr := a.lookup(ctx, id); lerr == nil {
			id = d.ID
		}
		logs, err = a.activity.ByDeclaration(ctx, id)

	case args[0] == "search":
		logs, err = a.activity.Search(ctx, strings.Join(args[1:], " "))

	case args[0] == "since" && (len(args) == 2 || (len(args) == 4 && args[2] == "until")):
		from, perr := parseDate(args[1])
		if perr != nil {
			return perr
		}
		var to time.Time
		if len(args) == 4 {
			if to, perr = parseDate(args[3]); perr != nil {
				return perr
			}
			// until a day means through its end
			to = to.Add(24*time.Hour - time.Nanosecond)
		}
		logs, err = a.activity.ByDateRange(ctx, from, to)

	default:
		return usage(logsUsage)
	}
	if err != nil {
		return err
	}
	return a.printLogs(logs)
}

func (a *App) printLogs(logs []models.ActivityLog) error {
	if len(logs) == 0 {
		a.printf("No activity.\n")
		return nil
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tUSER\tACTION\tDECLARATION\tDETAILS")
	for _, l := range logs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			l.Timestamp.Local().Format(timeLayout), l.Username, l.Label, l.DeclarationCode, l.Details)
	}
	return tw.Flush()
}

func joinActions() string {
	names := make([]string, 0, len(models.Actions()))
	for _, a := range models.Actions() {
		names = append(names, string(a))
	}
	slices.Sort(names)
	return strings.Join(names, ", ")
}
