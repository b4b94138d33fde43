package registry

import "fmt"

// DefaultDateLayout is the display layout for date columns.
const DefaultDateLayout = "02.01.2006"

// Row is one normalised member record. NostroyRow and NoprizRow implement it.
type Row interface {
	// Key is the de-duplication key of the record.
	Key() int64
	// Header lists the display names of Values in order.
	Header() []string
	// Values returns one cell per header column; unset fields are nil.
	Values() []any
	// Details returns the repeatable sub-entities of the record.
	Details() RowDetails
}

// RowDetails holds the variable-length histories of a member.
type RowDetails struct {
	Inspections []Inspection
	Insurances  []Insurance
}

// Len is the number of sub-rows the record spans in the grouped layout.
func (d RowDetails) Len() int {
	return max(len(d.Inspections), len(d.Insurances), 1)
}

// Column display names.
const (
	ColID                 = "id"
	ColRegistrationNumber = "Регистрационный номер члена СРО"
	ColSRO                = "СРО"
	ColFullDescription    = "Полное наименование"
	ColShortDescription   = "Сокращенное наименование"
	ColOGRN               = "ОГРН/ОГРНИП"
	ColINN                = "ИНН"
	ColPhones             = "Номер контактного телефона"
	ColMemberType         = "Тип члена СРО"
	ColAddress            = "Адрес места нахождения юридического лица"
	ColDirector           = "ФИО, осуществляющего функции единоличного исполнительного органа юридического " +
		"лица и (или) руководителя коллегиального исполнительного органа юридического лица"
	ColAccordanceStatus = "Сведения о соответствии члена СРО условиям членства в СРО, предусмотренным " +
		"законодательством РФ и (или) внутренними документами СРО"
	ColRegistrationDate = "Дата регистрации в реестре"
	ColLastUpdatedAt    = "Дата изменения информации"

	ColRegion                 = "Регион"
	ColSimple                 = "Право выполнять работы (кроме особо опасных объектов)"
	ColSimpleDate             = "Дата возникновения права (кроме особо опасных объектов)"
	ColExtremelyDangerous     = "Право выполнять работы на особо опасных, технически сложных и уникальных объектах"
	ColExtremelyDangerousDate = "Дата возникновения права на особо опасных объектах"
	ColNuclear                = "Право выполнять работы на объектах использования атомной энергии"
	ColNuclearDate            = "Дата возникновения права на объектах использования атомной энергии"

	ColMemberStatus      = "Статус члена СРО"
	ColBasis             = "Дата и номер решения о приеме в члены"
	ColApprovedBasisDate = "Дата вступления в силу решения о приеме"
	ColCreatedAt         = "Дата создания"
	ColSuspensionDate    = "Дата прекращения членства"
	ColSuspensionReason  = "Основание прекращения членства"
	ColFundVV            = "Размер взноса в компенсационный фонд возмещения вреда"
	ColFundODO           = "Размер взноса в компенсационный фонд обеспечения договорных обязательств"
)

var baseHeader = []string{
	ColID, ColRegistrationNumber, ColSRO, ColFullDescription, ColShortDescription,
	ColOGRN, ColINN, ColPhones, ColMemberType, ColAddress, ColDirector,
	ColAccordanceStatus, ColRegistrationDate, ColLastUpdatedAt,
}

// BaseRow is the field set shared by both registries.
type BaseRow struct {
	ID                 int64   `json:"id"`
	RegistrationNumber *string `json:"registration_number"`
	SRO                *string `json:"sro"`
	FullDescription    *string `json:"full_description"`
	ShortDescription   *string `json:"short_description"`
	OGRN               *string `json:"ogrnip"`
	INN                *string `json:"inn"`
	Phones             *string `json:"phones"`
	MemberType         *string `json:"member_type"`
	FullAddress        *string `json:"full_address"`
	Director           *string `json:"director"`
	AccordanceStatus   *string `json:"accordance_status"`
	RegistrationDate   *string `json:"registry_registration_date"`
	LastUpdatedAt      *string `json:"last_updated_at"`

	Inspections []Inspection `json:"inspections,omitempty"`
	Insurances  []Insurance  `json:"insurances,omitempty"`
}

// Key implements Row.
func (r *BaseRow) Key() int64 { return r.ID }

// Details implements Row.
func (r *BaseRow) Details() RowDetails {
	return RowDetails{Inspections: r.Inspections, Insurances: r.Insurances}
}

func (r *BaseRow) values() []any {
	return []any{
		r.ID, cell(r.RegistrationNumber), cell(r.SRO), cell(r.FullDescription), cell(r.ShortDescription),
		cell(r.OGRN), cell(r.INN), cell(r.Phones), cell(r.MemberType), cell(r.FullAddress), cell(r.Director),
		cell(r.AccordanceStatus), cell(r.RegistrationDate), cell(r.LastUpdatedAt),
	}
}

// Eligibility is one work-right flag with the date it was granted.
type Eligibility struct {
	Display string  `json:"display"`
	Date    *string `json:"date"`
}

// NostroyRow is a member of the construction registry.
type NostroyRow struct {
	BaseRow
	Region             *string     `json:"region"`
	Simple             Eligibility `json:"simple"`
	ExtremelyDangerous Eligibility `json:"extremely_dangerous"`
	Nuclear            Eligibility `json:"nuclear"`
}

var nostroyHeader = append(append([]string{}, baseHeader...),
	ColRegion,
	ColSimple, ColSimpleDate,
	ColExtremelyDangerous, ColExtremelyDangerousDate,
	ColNuclear, ColNuclearDate,
)

// Header implements Row.
func (r *NostroyRow) Header() []string { return nostroyHeader }

// Values implements Row.
func (r *NostroyRow) Values() []any {
	return append(r.values(),
		cell(r.Region),
		r.Simple.Display, cell(r.Simple.Date),
		r.ExtremelyDangerous.Display, cell(r.ExtremelyDangerous.Date),
		r.Nuclear.Display, cell(r.Nuclear.Date),
	)
}

// NoprizRow is a member of the design and survey registry.
type NoprizRow struct {
	BaseRow
	MemberStatus      *string  `json:"member_status"`
	Basis             *string  `json:"basis"`
	ApprovedBasisDate *string  `json:"approved_basis_date"`
	CreatedAt         *string  `json:"created_at"`
	SuspensionDate    *string  `json:"suspension_date"`
	SuspensionReason  *string  `json:"suspension_reason"`
	FundVV            *float64 `json:"member_right_vv"`
	FundODO           *float64 `json:"member_right_odo"`
}

var noprizHeader = append(append([]string{}, baseHeader...),
	ColMemberStatus, ColBasis, ColApprovedBasisDate, ColCreatedAt,
	ColSuspensionDate, ColSuspensionReason, ColFundVV, ColFundODO,
)

// Header implements Row.
func (r *NoprizRow) Header() []string { return noprizHeader }

// Values implements Row.
func (r *NoprizRow) Values() []any {
	return append(r.values(),
		cell(r.MemberStatus), cell(r.Basis), cell(r.ApprovedBasisDate), cell(r.CreatedAt),
		cell(r.SuspensionDate), cell(r.SuspensionReason), cell(r.FundVV), cell(r.FundODO),
	)
}

// InspectionHeader names the inspection sub-row columns.
var InspectionHeader = []string{
	"Номер проверки", "Дата начала проверки", "Дата окончания проверки", "Тип проверки", "Результат проверки",
}

// Inspection is one audit of the member by its SRO.
type Inspection struct {
	Number    *string `json:"number"`
	DateStart *string `json:"date_start"`
	DateEnd   *string `json:"date_end"`
	Type      *string `json:"type"`
	Result    *string `json:"result"`
}

// Values returns the sub-row cells in InspectionHeader order.
func (i Inspection) Values() []any {
	return []any{cell(i.Number), cell(i.DateStart), cell(i.DateEnd), cell(i.Type), cell(i.Result)}
}

// InsuranceHeader names the insurance sub-row columns.
var InsuranceHeader = []string{
	"Страховщик", "Номер договора страхования", "Дата начала страхования", "Дата окончания страхования", "Страховая сумма",
}

// Insurance is one liability insurance contract of the member.
type Insurance struct {
	Insurer   *string  `json:"insurer"`
	Number    *string  `json:"number"`
	DateStart *string  `json:"date_start"`
	DateEnd   *string  `json:"date_end"`
	Amount    *float64 `json:"amount"`
}

// Values returns the sub-row cells in InsuranceHeader order.
func (i Insurance) Values() []any {
	return []any{cell(i.Insurer), cell(i.Number), cell(i.DateStart), cell(i.DateEnd), cell(i.Amount)}
}

func cell[T any](v *T) any {
	if v == nil {
		return nil
	}
	return *v
}

// Normalizer maps decoded members to the shared part of a row.
type Normalizer struct {
	DateLayout string
}

func (n Normalizer) layout() string {
	if n.DateLayout == "" {
		return DefaultDateLayout
	}
	return n.DateLayout
}

func (n Normalizer) date(id int64, field string, raw OptString) (*string, error) {
	out, err := FormatDate(raw, n.layout())
	if err != nil {
		return nil, malformed(id, "%s: %v", field, err)
	}
	return out, nil
}

func (n Normalizer) dateTime(id int64, field string, raw OptString) (*string, error) {
	out, err := FormatDate(raw, n.layout()+" 15:04:05")
	if err != nil {
		return nil, malformed(id, "%s: %v", field, err)
	}
	return out, nil
}

// Base builds the shared row fields of m. The SRO column prefers the fetched
// descriptor over the reference embedded in the member.
func (n Normalizer) Base(id int64, m *Member, sro SRO) (BaseRow, error) {
	row := BaseRow{
		ID:                 id,
		RegistrationNumber: m.RegistrationNumber.Ptr(),
		FullDescription:    m.FullDescription.Ptr(),
		ShortDescription:   m.ShortDescription.Ptr(),
		OGRN:               m.OGRN.Ptr(),
		INN:                m.INN.Ptr(),
		Phones:             m.Phones.Ptr(),
		MemberType:         TitleOf(m.MemberType),
		FullAddress:        m.Address(),
		Director:           m.Director.Ptr(),
		AccordanceStatus:   TitleOf(m.AccordanceStatus),
	}
	row.SRO = sro.FullDescription.Ptr()
	if row.SRO == nil && m.SRO != nil {
		row.SRO = m.SRO.FullDescription.Ptr()
	}

	var err error
	if row.RegistrationDate, err = n.date(id, "registry_registration_date", m.RegistryRegistrationDate); err != nil {
		return BaseRow{}, err
	}
	if row.LastUpdatedAt, err = n.dateTime(id, "last_updated_at", m.LastUpdatedAt); err != nil {
		return BaseRow{}, err
	}
	if row.Inspections, err = n.inspections(id, m.InspectionHistory()); err != nil {
		return BaseRow{}, err
	}
	if row.Insurances, err = n.insurances(id, m.InsuranceHistory()); err != nil {
		return BaseRow{}, err
	}
	return row, nil
}

// Eligibility resolves one work-right flag. A nil right reads as "Нет".
func (n Normalizer) Eligibility(id int64, field string, flag *bool, date OptString) (Eligibility, error) {
	out := Eligibility{Display: FlagDisplay(flag)}
	var err error
	if out.Date, err = n.date(id, field, date); err != nil {
		return Eligibility{}, err
	}
	return out, nil
}

func (n Normalizer) inspections(id int64, raw []RawInspection) ([]Inspection, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]Inspection, 0, len(raw))
	for i, r := range raw {
		start, err := n.date(id, fmt.Sprintf("inspections[%d].date_start", i), r.DateStart)
		if err != nil {
			return nil, err
		}
		end, err := n.date(id, fmt.Sprintf("inspections[%d].date_end", i), r.DateEnd)
		if err != nil {
			return nil, err
		}
		out = append(out, Inspection{
			Number:    r.Number.Ptr(),
			DateStart: start,
			DateEnd:   end,
			Type:      TitleOf(r.Type),
			Result:    TitleOf(r.Result),
		})
	}
	return out, nil
}

func (n Normalizer) insurances(id int64, raw []RawInsurance) ([]Insurance, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]Insurance, 0, len(raw))
	for i, r := range raw {
		start, err := n.date(id, fmt.Sprintf("insurances[%d].date_start", i), r.DateStart)
		if err != nil {
			return nil, err
		}
		end, err := n.date(id, fmt.Sprintf("insurances[%d].date_end", i), r.DateEnd)
		if err != nil {
			return nil, err
		}
		out = append(out, Insurance{
			Insurer:   r.Insurer.Ptr(),
			Number:    r.Number.Ptr(),
			DateStart: start,
			DateEnd:   end,
			Amount:    r.Amount.Ptr(),
		})
	}
	return out, nil
}

// DateOf formats a date-only field for a service-specific column.
func (n Normalizer) DateOf(id int64, field string, raw OptString) (*string, error) {
	return n.date(id, field, raw)
}

// DateTimeOf formats a datetime field for a service-specific column.
func (n Normalizer) DateTimeOf(id int64, field string, raw OptString) (*string, error) {
	return n.dateTime(id, field, raw)
}

// Address composes the member address from its parts in fixed order.
func (m *Member) Address() *string {
	return ComposeAddress(
		m.Index, m.Country, m.Subject, m.District, m.City,
		m.Locality, m.Street, m.House, m.Building, m.Room,
	)
}
