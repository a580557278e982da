package extract

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/C1ean-dev/process/internal/models"
)

// The documents are equipment hand-over terms with fixed Portuguese labels.
// The patterns run against normalized text (diacritics stripped, lowercase).
var (
	reName       = regexp.MustCompile(`(?is)empregado:\s*(.*?)\s*matricula:`)
	reRegistraID = regexp.MustCompile(`(?is)matricula:\s*(.*?)\s*funcao:`)
	reRole       = regexp.MustCompile(`(?is)funcao:\s*(.*?)(?:\s*r\.g\.|\s*empregador:|\n|$)`)
	reRG         = regexp.MustCompile(`(?is)r\.g\.\s*n:?\s*(.*?)\s*empregador:`)
	reEmployer   = regexp.MustCompile(`(?is)empregador:\s*(.*?)\s*cpf:`)
	reCPF        = regexp.MustCompile(`(?is)cpf:\s*(.*?)\s*\(\s*\)`)
	reDate       = regexp.MustCompile(`sao paulo,\s*(\d{1,2})\s+de\s+([a-z]+)\s+de\s+(\d{4})`)
	reEquipBlock = regexp.MustCompile(`(?is)ferramentas:\s*(.*?)\s*declaro`)
	reIMEI       = regexp.MustCompile(`(?i)imei:\s*(\S+)`)
	reAsset      = regexp.MustCompile(`(?i)patrimonio:\s*(\S+)`)
	reEquipLabel = regexp.MustCompile(`(?i)^equipamento:\s*`)
)

var monthNumbers = map[string]string{
	"janeiro": "01", "fevereiro": "02", "marco": "03", "abril": "04",
	"maio": "05", "junho": "06", "julho": "07", "agosto": "08",
	"setembro": "09", "outubro": "10", "novembro": "11", "dezembro": "12",
}

var asciiFold = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)))

// Normalize folds text the way the field patterns expect: decompose,
// strip combining marks, drop the remaining non-ASCII runes, lowercase.
func Normalize(text string) string {
	folded, _, err := transform.String(asciiFold, text)
	if err != nil {
		folded = text
	}
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if r < 128 {
			b.WriteRune(r)
		}
	}
	return strings.ToLower(b.String())
}

// ParseFields extracts the structured payload from normalized text. Missing
// labels simply produce empty fields; the caller decides what an entirely
// empty result means.
func ParseFields(normalized string) *models.Fields {
	fields := &models.Fields{
		Name:           firstGroup(reName, normalized),
		RegistrationID: firstGroup(reRegistraID, normalized),
		Role:           firstGroup(reRole, normalized),
		RG:             firstGroup(reRG, normalized),
		Employer:       firstGroup(reEmployer, normalized),
		CPF:            firstGroup(reCPF, normalized),
		DocumentDate:   parseDate(normalized),
	}
	parseEquipment(normalized, fields)
	return fields
}

func firstGroup(re *regexp.Regexp, text string) string {
	match := re.FindStringSubmatch(text)
	if match == nil {
		return ""
	}
	return strings.TrimSpace(match[1])
}

func parseDate(text string) string {
	match := reDate.FindStringSubmatch(text)
	if match == nil {
		return ""
	}
	day, monthName, year := match[1], match[2], match[3]
	month, ok := monthNumbers[monthName]
	if !ok {
		return ""
	}
	if len(day) == 1 {
		day = "0" + day
	}
	return fmt.Sprintf("%s/%s/%s", day, month, year)
}

func parseEquipment(text string, fields *models.Fields) {
	block := reEquipBlock.FindStringSubmatch(text)
	if block == nil {
		return
	}
	for _, line := range strings.Split(strings.TrimSpace(block[1]), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		imei := firstGroup(reIMEI, line)
		if imei != "" {
			fields.IMEINumbers = append(fields.IMEINumbers, imei)
			line = strings.TrimSpace(reIMEI.ReplaceAllString(line, ""))
		}

		asset := firstGroup(reAsset, line)
		if asset != "" {
			fields.AssetNumbers = append(fields.AssetNumbers, asset)
			line = strings.TrimSpace(reAsset.ReplaceAllString(line, ""))
		}

		name := strings.TrimSpace(reEquipLabel.ReplaceAllString(line, ""))
		if name != "" {
			fields.Equipment = append(fields.Equipment, models.EquipmentItem{
				Name:        name,
				IMEI:        imei,
				AssetNumber: asset,
			})
		}
	}
}
