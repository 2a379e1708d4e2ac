package cli

import (
	"github.com/spf13/cobra"

	"price-alerts/internal/app"
	"price-alerts/internal/storage"
)

var (
	ruleFilter storage.RuleFilter
	ruleInput  app.RuleInput

	contactInput storage.Contact
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage alert rules",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alert rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ListRules(cmd.Context(), ruleFilter)
	},
}

var rulesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create an alert rule",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().AddRule(cmd.Context(), ruleInput)
	},
}

var rulesEnableCmd = &cobra.Command{
	Use:   "enable <rule-id>",
	Short: "Activate a rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SetRuleActive(cmd.Context(), args[0], true)
	},
}

var rulesDisableCmd = &cobra.Command{
	Use:   "disable <rule-id>",
	Short: "Deactivate a rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SetRuleActive(cmd.Context(), args[0], false)
	},
}

var rulesDeleteCmd = &cobra.Command{
	Use:   "delete <rule-id>",
	Short: "Delete a rule (its history is kept)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().DeleteRule(cmd.Context(), args[0])
	},
}

var contactsCmd = &cobra.Command{
	Use:   "contacts",
	Short: "Manage owner delivery endpoints",
}

var contactsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Set an owner's email, webhook URL or Telegram chat id",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SetContact(cmd.Context(), contactInput)
	},
}

var contactsShowCmd = &cobra.Command{
	Use:   "show <owner-id>",
	Short: "Show an owner's delivery endpoints",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ShowContact(cmd.Context(), args[0])
	},
}

func init() {
	rulesListCmd.Flags().StringVar(&ruleFilter.OwnerID, "owner", "", "Only rules of this owner")
	rulesListCmd.Flags().StringVar(&ruleFilter.ProductModel, "model", "", "Only rules for this product model")
	rulesListCmd.Flags().StringVar(&ruleFilter.Region, "region", "", "Only rules for this region")
	rulesListCmd.Flags().BoolVar(&ruleFilter.ActiveOnly, "active", false, "Only active rules")
	rulesListCmd.Flags().IntVar(&ruleFilter.Limit, "limit", 0, "Maximum number of rules")

	rulesAddCmd.Flags().StringVar(&ruleInput.OwnerID, "owner", "", "Owner (user) id")
	rulesAddCmd.Flags().StringVar(&ruleInput.ProductModel, "model", "", "Product model")
	rulesAddCmd.Flags().StringVar(&ruleInput.Region, "region", "", "Region code")
	rulesAddCmd.Flags().StringVar(&ruleInput.Condition, "condition", "price_below", "price_below or price_drop")
	rulesAddCmd.Flags().Float64Var(&ruleInput.Threshold, "threshold", 0, "Threshold (defaults to config)")
	rulesAddCmd.Flags().IntVar(&ruleInput.TimePeriodDays, "days", 0, "Lookback window in days (defaults to config)")
	rulesAddCmd.Flags().StringSliceVar(&ruleInput.Channels, "channels", []string{"email"}, "Notification channels")

	rulesCmd.AddCommand(rulesListCmd, rulesAddCmd, rulesEnableCmd, rulesDisableCmd, rulesDeleteCmd)

	contactsSetCmd.Flags().StringVar(&contactInput.OwnerID, "owner", "", "Owner (user) id")
	contactsSetCmd.Flags().StringVar(&contactInput.Email, "email", "", "Email address")
	contactsSetCmd.Flags().StringVar(&contactInput.WebhookURL, "webhook", "", "Webhook URL")
	contactsSetCmd.Flags().StringVar(&contactInput.ChatID, "telegram-chat", "", "Telegram chat id")

	contactsCmd.AddCommand(contactsSetCmd, contactsShowCmd)
}
