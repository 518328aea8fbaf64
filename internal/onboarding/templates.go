package onboarding

// SetupWizardWelcome is the welcome message for the setup wizard
const SetupWizardWelcome = `
╔════════════════════════════════════════════════════════════════╗
║                                                                ║
║                    💊 Welcome to careclock                     ║
║                                                                ║
║            Medication dose tracker - Setup Wizard              ║
║                                                                ║
╚════════════════════════════════════════════════════════════════╝

This wizard connects careclock to your care API and sets up
reminders for missed doses. Press Ctrl+C at any time to abort.
`

// SetupCompleteMessage is shown once the config file is written
const SetupCompleteMessage = `
╔════════════════════════════════════════════════════════════════╗
║                      ✅ Setup Complete!                        ║
╚════════════════════════════════════════════════════════════════╝

Data directory: {{.DataDir}}
Configuration:  {{.ConfigPath}}

Next steps:
  careclock doses        List upcoming doses
  careclock tui          Open the interactive list
  careclock serve        Start the dashboard API and reminders

If the data directory is not the default one, pass --data {{.DataDir}}
to every command.
`
