package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/spec-kit/sla-engine/internal/calendar"
	"github.com/spec-kit/sla-engine/internal/domain"
)

// CalendarCmd returns the calendar command group.
func CalendarCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "Business-time arithmetic for a calendar",
		Long: `Compute business minutes and due instants the way the engine does.

Without --business-hours the calendar is 24x7. Instants are RFC 3339.

Usage:
  slactl calendar minutes 2024-01-12T16:00:00Z 2024-01-15T10:00:00Z --business-hours
  slactl calendar due 2024-01-12T16:00:00Z 90 --business-hours --tz Europe/Berlin`,
	}
	cmd.PersistentFlags().Bool("business-hours", false, "Only count working hours")
	cmd.PersistentFlags().String("tz", "UTC", "IANA timezone of the working hours")
	cmd.PersistentFlags().StringSlice("days", []string{"mon", "tue", "wed", "thu", "fri"}, "Working days")
	cmd.PersistentFlags().String("hours", "09:00-17:00", "Working hours as HH:MM-HH:MM")
	cmd.PersistentFlags().StringSlice("holidays", nil, "Local dates (YYYY-MM-DD) that never count")

	cmd.AddCommand(&cobra.Command{
		Use:   "minutes <start> <end>",
		Short: "Business minutes in [start, end)",
		Args:  cobra.ExactArgs(2),
		RunE:  runCalendarMinutes,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "due <start> <target-minutes>",
		Short: "Instant at which target business minutes have elapsed",
		Args:  cobra.ExactArgs(2),
		RunE:  runCalendarDue,
	})
	return cmd
}

func runCalendarMinutes(cmd *cobra.Command, args []string) error {
	cal, err := calendarFromFlags(cmd)
	if err != nil {
		return err
	}
	start, err := time.Parse(time.RFC3339, args[0])
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	end, err := time.Parse(time.RFC3339, args[1])
	if err != nil {
		return fmt.Errorf("end: %w", err)
	}
	minutes, err := calendar.NewResolver().BusinessMinutesBetween(start, end, cal)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), strconv.FormatFloat(minutes, 'f', -1, 64))
	return nil
}

func runCalendarDue(cmd *cobra.Command, args []string) error {
	cal, err := calendarFromFlags(cmd)
	if err != nil {
		return err
	}
	start, err := time.Parse(time.RFC3339, args[0])
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	target, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || target <= 0 {
		return fmt.Errorf("target-minutes must be a positive integer")
	}
	due, err := calendar.NewResolver().AddBusinessDuration(start, time.Duration(target)*time.Minute, cal)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), due.UTC().Format(time.RFC3339))
	return nil
}

func calendarFromFlags(cmd *cobra.Command) (domain.Calendar, error) {
	businessHours, _ := cmd.Flags().GetBool("business-hours")
	tz, _ := cmd.Flags().GetString("tz")
	days, _ := cmd.Flags().GetStringSlice("days")
	hours, _ := cmd.Flags().GetString("hours")
	holidays, _ := cmd.Flags().GetStringSlice("holidays")

	doc := domain.CalendarDocument{
		BusinessHoursOnly: businessHours,
		Timezone:          tz,
		Holidays:          holidays,
	}
	if businessHours {
		open, closeAt, ok := strings.Cut(hours, "-")
		if !ok {
			return domain.Calendar{}, fmt.Errorf("hours must look like 09:00-17:00")
		}
		doc.WorkingDays = days
		doc.WorkingHoursStart = strings.TrimSpace(open)
		doc.WorkingHoursEnd = strings.TrimSpace(closeAt)
	}
	return doc.ToCalendar()
}
