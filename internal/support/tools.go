package support

import (
	"context"
	"fmt"

	"github.com/nugget/switchboard/internal/tools"
)

// Tool names offered to the support model.
const (
	ToolLookupUser           = "lookup_user"
	ToolTransactionHistory   = "get_transaction_history"
	ToolCheckAccountStatus   = "check_account_status"
	ToolTroubleshootTransfer = "troubleshoot_transfer"
)

type ctxKey struct{}

// WithUserKey binds the requesting user's key to ctx. Account tools
// always act on the bound key, whatever key the model passes.
func WithUserKey(ctx context.Context, userKey string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userKey)
}

// UserKeyFrom returns the key bound by WithUserKey.
func UserKeyFrom(ctx context.Context) (string, bool) {
	k, ok := ctx.Value(ctxKey{}).(string)
	return k, ok && k != ""
}

func userKeyParam() map[string]any {
	return map[string]any{
		"type":        "string",
		"description": "The user's key.",
	}
}

// RegisterTools adds the four support tools backed by b to reg.
func RegisterTools(reg *tools.Registry, b Backend) {
	reg.Register(&tools.Tool{
		Name:        ToolLookupUser,
		Description: "Get user profile information including name, email, account status, and verification level.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"user_key": userKeyParam()},
			"required":   []string{"user_key"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			key, err := resolveUserKey(ctx, args)
			if err != nil {
				return "", err
			}
			p, err := b.LookupUser(ctx, key)
			if err != nil {
				return "", fmt.Errorf("%s: %w", ToolLookupUser, err)
			}
			return tools.JSONResult(p)
		},
	})

	reg.Register(&tools.Tool{
		Name:        ToolTransactionHistory,
		Description: "Get recent transaction history for a user. Limit specifies how many transactions to return (default 5).",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"user_key": userKeyParam(),
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum number of transactions to return. Default: 5.",
				},
			},
			"required": []string{"user_key"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			key, err := resolveUserKey(ctx, args)
			if err != nil {
				return "", err
			}
			h, err := b.TransactionHistory(ctx, key, tools.IntArg(args, "limit", DefaultHistoryLimit))
			if err != nil {
				return "", fmt.Errorf("%s: %w", ToolTransactionHistory, err)
			}
			return tools.JSONResult(h)
		},
	})

	reg.Register(&tools.Tool{
		Name:        ToolCheckAccountStatus,
		Description: "Check account status, daily limits, and restrictions. Shows how much user can still transfer today.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"user_key": userKeyParam()},
			"required":   []string{"user_key"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			key, err := resolveUserKey(ctx, args)
			if err != nil {
				return "", err
			}
			st, err := b.AccountStatus(ctx, key)
			if err != nil {
				return "", fmt.Errorf("%s: %w", ToolCheckAccountStatus, err)
			}
			return tools.JSONResult(st)
		},
	})

	reg.Register(&tools.Tool{
		Name:        ToolTroubleshootTransfer,
		Description: "Diagnose transfer issues. Requires a transfer_id. Returns issue type, description, and recommendations.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"transfer_id": map[string]any{
					"type":        "string",
					"description": "The transfer identifier, e.g. tx_leo_pending_001.",
				},
			},
			"required": []string{"transfer_id"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			id := tools.StringArg(args, "transfer_id", "")
			if id == "" {
				return "", fmt.Errorf("%s: transfer_id is required", ToolTroubleshootTransfer)
			}
			d, err := b.TroubleshootTransfer(ctx, id)
			if err != nil {
				return "", fmt.Errorf("%s: %w", ToolTroubleshootTransfer, err)
			}
			return tools.JSONResult(d)
		},
	})
}

func resolveUserKey(ctx context.Context, args map[string]any) (string, error) {
	if k, ok := UserKeyFrom(ctx); ok {
		return k, nil
	}
	if k := tools.StringArg(args, "user_key", ""); k != "" {
		return k, nil
	}
	return "", fmt.Errorf("user_key is required")
}
