package render

import (
	"bidwatch/internal/registry"
	"bytes"
	"html/template"
	"time"

	_ "embed"
)

//go:embed card.html
var cardSource string

var cardTemplate = template.Must(template.New("card").Parse(cardSource))

type cardData struct {
	Name           string
	Photo          template.URL
	ContractNumber string
	ContractType   string
	Published      string
	ContractEnd    string
	AthleteID      string
	Nickname       string
	BirthDate      string
	Crest          template.URL
	Club           string
	Region         string
	HistoryUrl     string
}

// assets are data uris, an empty one means the image could not be fetched.
type assets struct {
	photo string
	crest string
}

func buildCard(record registry.Record, images assets, historyUrl string, loc *time.Location) (string, error) {
	data := cardData{
		Name:           record.AthleteName,
		Photo:          template.URL(images.photo),
		ContractNumber: record.ContractNumber.String(),
		ContractType:   record.ContractType,
		Published:      registry.FormatTime(record.PublicationDate, true, loc),
		AthleteID:      record.AthleteID.String(),
		Nickname:       "-",
		BirthDate:      record.BirthDate,
		Crest:          template.URL(images.crest),
		Club:           record.ClubName,
		Region:         record.RegionCode,
		HistoryUrl:     historyUrl,
	}
	if record.Nickname != nil && *record.Nickname != "" {
		data.Nickname = *record.Nickname
	}
	if record.ContractEnd != nil && *record.ContractEnd != "" {
		data.ContractEnd = registry.FormatTime(*record.ContractEnd, false, loc)
	}

	var buff bytes.Buffer
	err := cardTemplate.Execute(&buff, data)
	if err != nil {
		return "", err
	}
	return buff.String(), nil
}
