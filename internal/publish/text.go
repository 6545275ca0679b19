package publish

import (
	"bidwatch/internal/registry"
	"fmt"
	"strings"
	"time"
)

func hashtag(s string) string {
	return "#" + strings.Join(strings.Fields(s), "")
}

// ComposeText writes the post announcing record, in Portuguese.
func ComposeText(record registry.Record, loc *time.Location) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Jogador publicado no BID: %s\n\n", record.AthleteName)
	fmt.Fprintf(&sb, "Publicado em: %s\n\n", registry.FormatTime(record.PublicationDate, true, loc))
	fmt.Fprintf(&sb, "Tipo de contrato: %s", record.ContractType)
	if record.ContractEnd != nil && *record.ContractEnd != "" {
		fmt.Fprintf(&sb, "\n\nData de término do contrato: %s", registry.FormatTime(*record.ContractEnd, false, loc))
	}
	fmt.Fprintf(&sb, "\n\n%s #BID %s", hashtag(record.AthleteName), hashtag(record.ClubName))
	return sb.String()
}
