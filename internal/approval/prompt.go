package approval

import (
	"fmt"
	"strings"
)

// FormatApprovalPrompt builds the typed prompt text for an approval request.
func FormatApprovalPrompt(req ApprovalRequest) string {
	description := strings.TrimSpace(req.Description)
	if description == "" {
		return fmt.Sprintf("確認執行 %s？ [y/N]: ", req.Action)
	}
	return fmt.Sprintf("%s [y/N]: ", description)
}
