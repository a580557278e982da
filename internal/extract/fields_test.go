package extract

import (
	"testing"
)

const sampleTerm = `TERMO DE RESPONSABILIDADE

EMPREGADO: João da Silva MATRÍCULA: 12345 FUNÇÃO: Técnico de Campo
R.G. Nº: 12.345.678-9 EMPREGADOR: Acme Serviços Ltda CPF: 123.456.789-00 ( )

FERRAMENTAS:
Equipamento: Notebook Dell IMEI: 356938035643809 Patrimônio: PAT-0042
Equipamento: Celular Samsung IMEI: 990000862471854

Declaro ter recebido os equipamentos acima.

São Paulo, 5 de Março de 2024
`

func TestNormalizeStripsAccentsAndCase(t *testing.T) {
	got := Normalize("São Paulo FUNÇÃO Matrícula")
	want := "sao paulo funcao matricula"
	if got != want {
		t.Fatalf("Normalize = %q, want %q", got, want)
	}
}

func TestNormalizeDropsNonASCII(t *testing.T) {
	got := Normalize("preço — R$ 10")
	if got != "preco  r$ 10" {
		t.Fatalf("Normalize = %q", got)
	}
}

func TestParseFields(t *testing.T) {
	fields := ParseFields(Normalize(sampleTerm))

	if fields.Name != "joao da silva" {
		t.Errorf("Name = %q", fields.Name)
	}
	if fields.RegistrationID != "12345" {
		t.Errorf("RegistrationID = %q", fields.RegistrationID)
	}
	if fields.Role != "tecnico de campo" {
		t.Errorf("Role = %q", fields.Role)
	}
	if fields.RG != "12.345.678-9" {
		t.Errorf("RG = %q", fields.RG)
	}
	if fields.Employer != "acme servicos ltda" {
		t.Errorf("Employer = %q", fields.Employer)
	}
	if fields.CPF != "123.456.789-00" {
		t.Errorf("CPF = %q", fields.CPF)
	}
	if fields.DocumentDate != "05/03/2024" {
		t.Errorf("DocumentDate = %q", fields.DocumentDate)
	}
}

func TestParseFieldsEquipmentBlock(t *testing.T) {
	fields := ParseFields(Normalize(sampleTerm))

	if len(fields.Equipment) != 2 {
		t.Fatalf("expected 2 equipment items, got %d: %+v", len(fields.Equipment), fields.Equipment)
	}
	first := fields.Equipment[0]
	if first.Name != "notebook dell" || first.IMEI != "356938035643809" || first.AssetNumber != "pat-0042" {
		t.Errorf("first item = %+v", first)
	}
	second := fields.Equipment[1]
	if second.Name != "celular samsung" || second.IMEI != "990000862471854" || second.AssetNumber != "" {
		t.Errorf("second item = %+v", second)
	}

	if len(fields.IMEINumbers) != 2 {
		t.Errorf("IMEINumbers = %v", fields.IMEINumbers)
	}
	if len(fields.AssetNumbers) != 1 || fields.AssetNumbers[0] != "pat-0042" {
		t.Errorf("AssetNumbers = %v", fields.AssetNumbers)
	}
}

func TestParseFieldsMissingLabels(t *testing.T) {
	fields := ParseFields(Normalize("unrelated scanned page with no labels"))
	if !fields.Empty() {
		t.Fatalf("expected empty fields, got %+v", fields)
	}
}

func TestParseFieldsUnknownMonth(t *testing.T) {
	fields := ParseFields("sao paulo, 5 de smarch de 2024")
	if fields.DocumentDate != "" {
		t.Fatalf("expected empty date for unknown month, got %q", fields.DocumentDate)
	}
}
