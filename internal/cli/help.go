package cli

import (
	"fmt"
	"io"
)

// PrintHelp prints the top-level usage
func PrintHelp(w io.Writer) {
	fmt.Fprintf(w, `careclock - medication dose tracker for caregivers (version %s)

Usage:
  careclock [--config FILE] [--data DIR] <command> [arguments]

Doses:
  doses              List upcoming doses grouped by day
                       --format text|json|yaml  --offline  --ids
  show <doseId>      Show one dose in detail
  take <doseId>      Mark a dose as taken (queued while offline)
  sync               Send queued taken doses to the care API

Medications:
  add-medication     Create a medication schedule
                       --name --dosage [--notes] [--recurrence daily|weekly]
                       [--time HH:MM]... [--day mon]... [--inactive]
  import -i FILE     Create medications from a YAML, JSON or text file
  deactivate <id>    Pause a medication
  activate <id>      Resume a paused medication

Care recipient:
  whoami             Print the active care recipient id
  set-recipient <id> Store a care recipient id locally

Interactive and services:
  tui                Open the interactive dose list
  serve              Run the HTTP dashboard API and reminders
  watch              Run the reminder loop in the foreground
  check              Run one reminder check now
  token              Issue a dashboard access token

Setup:
  init               Run the setup wizard
  config [show|path|get <key>]
  status             Show configuration and local state
  version            Print the version
  help               Show this help

Environment:
  CARECLOCK_API_BASE_URL, CARECLOCK_API_TOKEN, CARECLOCK_CARE_RECIPIENT_ID,
  CARECLOCK_CHANNELS_TELEGRAM_BOT_TOKEN, CARECLOCK_CHANNELS_DISCORD_TOKEN,
  CARECLOCK_SERVER_JWT_SECRET
`, Version)
}

// PrintConfigHelp prints usage of the config command
func PrintConfigHelp(w io.Writer) {
	fmt.Fprintln(w, `Usage: careclock config <subcommand>

Subcommands:
  show        Print the effective configuration, secrets masked
  path        Print the config file in use
  get <key>   Print one value, e.g. api.base_url`)
}

// PrintImportHelp prints usage of the import command
func PrintImportHelp(w io.Writer) {
	fmt.Fprintln(w, `Usage: careclock import -i FILE [options]

Input formats, picked by extension:
  .yaml/.yml   a list of {name, dosage, notes, recurrence, times, days, inactive}
  .json/.jsonl an array or one object per line with the same fields
  other        one "name | dosage | 08:00,20:00" line per medication

Options:
  -i FILE        Input file (required)
  -o FILE        Write per-item results (.json for one document, else JSONL)
  -c N           Concurrent requests (default 3)
  -t DURATION    Timeout per medication (default 30s)
  --dry-run      Validate lines without creating anything`)
}
