package registry

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Member is the raw detail payload of either registry. Only the fields the
// rows consume are decoded.
type Member struct {
	ID                 OptString  `json:"id"`
	SRO                *MemberSRO `json:"sro"`
	SROID              OptString  `json:"sro_id"`
	RegistrationNumber OptString  `json:"registration_number"`
	InventoryNumber    OptString  `json:"inventory_number"`
	FullDescription    OptString  `json:"full_description"`
	ShortDescription   OptString  `json:"short_description"`
	OGRN               OptString  `json:"ogrnip"`
	INN                OptString  `json:"inn"`
	Phones             OptString  `json:"phones"`
	Director           OptString  `json:"director"`

	Index    OptString `json:"index"`
	Country  OptString `json:"country"`
	Subject  OptString `json:"subject"`
	District OptString `json:"district"`
	City     OptString `json:"city"`
	Locality OptString `json:"locality"`
	Street   OptString `json:"street"`
	House    OptString `json:"house"`
	Building OptString `json:"building"`
	Room     OptString `json:"room"`

	MemberType       *Titled `json:"member_type"`
	MemberStatus     *Titled `json:"member_status"`
	AccordanceStatus *Titled `json:"accordance_status"`

	RegistryRegistrationDate OptString `json:"registry_registration_date"`
	LastUpdatedAt            OptString `json:"last_updated_at"`
	CreatedAt                OptString `json:"created_at"`
	Basis                    OptString `json:"basis"`
	ApprovedBasisDate        OptString `json:"approved_basis_date"`
	SuspensionDate           OptString `json:"suspension_date"`
	SuspensionReason         OptString `json:"suspension_reason"`

	MemberRightVV  *Fund `json:"member_right_vv"`
	MemberRightODO *Fund `json:"member_right_odo"`

	// The registries do not document these sub-objects. They are decoded
	// best effort by Rights, InspectionHistory and InsuranceHistory.
	RightRaw       json.RawMessage `json:"right"`
	InspectionsRaw json.RawMessage `json:"inspections"`
	InsurancesRaw  json.RawMessage `json:"insurances"`
}

// Rights returns the eligibility flags, nil when absent or not an object of
// the expected shape.
func (m *Member) Rights() *Right {
	var r Right
	if !looseDecode(m.RightRaw, &r) {
		return nil
	}
	return &r
}

// InspectionHistory returns the inspection entries that decode. A
// non-array value yields none.
func (m *Member) InspectionHistory() []RawInspection {
	return looseList[RawInspection](m.InspectionsRaw)
}

// InsuranceHistory returns the insurance entries that decode.
func (m *Member) InsuranceHistory() []RawInsurance {
	return looseList[RawInsurance](m.InsurancesRaw)
}

func looseDecode(raw json.RawMessage, v any) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return false
	}
	return json.Unmarshal(raw, v) == nil
}

func looseList[T any](raw json.RawMessage) []T {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil || len(items) == 0 {
		return nil
	}
	out := make([]T, 0, len(items))
	for _, item := range items {
		var v T
		if looseDecode(item, &v) {
			out = append(out, v)
		}
	}
	return out
}

// MemberSRO is the SRO reference embedded in a member record.
type MemberSRO struct {
	ID              OptString `json:"id"`
	FullDescription OptString `json:"full_description"`
}

// Fund is a compensation fund contribution.
type Fund struct {
	CompensationFund OptFloat `json:"compensation_fund"`
}

// Right carries the work eligibility flags of a member.
type Right struct {
	IsSimple               OptBool   `json:"is_simple"`
	SimpleDate             OptString `json:"simple_date"`
	IsExtremelyDangerous   OptBool   `json:"is_extremely_dangerous"`
	ExtremelyDangerousDate OptString `json:"extremely_dangerous_date"`
	IsNuclear              OptBool   `json:"is_nuclear"`
	NuclearDate            OptString `json:"nuclear_date"`
}

// RawInspection is one entry of the inspection history.
type RawInspection struct {
	Number    OptString `json:"number"`
	DateStart OptString `json:"date_start"`
	DateEnd   OptString `json:"date_end"`
	Type      *Titled   `json:"type"`
	Result    *Titled   `json:"result"`
}

// RawInsurance is one entry of the insurance history.
type RawInsurance struct {
	Insurer   OptString `json:"insurer"`
	Number    OptString `json:"number"`
	DateStart OptString `json:"date_start"`
	DateEnd   OptString `json:"date_end"`
	Amount    OptFloat  `json:"amount"`
}

// DecodeDetail decodes the head of a detail payload and checks the keys every
// row needs.
func DecodeDetail(raw json.RawMessage) (Detail, error) {
	var m Member
	if err := json.Unmarshal(raw, &m); err != nil {
		return Detail{Raw: raw}, malformed(0, "decode detail: %v", err)
	}
	id, err := m.memberID()
	if err != nil {
		return Detail{Raw: raw}, err
	}
	sroID, err := m.sroID(id)
	if err != nil {
		return Detail{ID: id, Raw: raw}, err
	}
	return Detail{ID: id, SROID: sroID, Raw: raw}, nil
}

// DecodeMember decodes the full member payload of d.
func DecodeMember(d Detail) (*Member, error) {
	var m Member
	if err := json.Unmarshal(d.Raw, &m); err != nil {
		return nil, malformed(d.ID, "decode member: %v", err)
	}
	if _, err := m.memberID(); err != nil {
		return nil, err
	}
	if m.SRO == nil && !m.SROID.Valid() {
		return nil, malformed(d.ID, "missing sro")
	}
	return &m, nil
}

func (m *Member) memberID() (int64, error) {
	if !m.ID.Valid() {
		return 0, malformed(0, "missing id")
	}
	id, err := ParseID(m.ID.String())
	if err != nil {
		return 0, malformed(0, "bad id %q", m.ID.String())
	}
	return id, nil
}

func (m *Member) sroID(memberID int64) (int64, error) {
	ref := m.SROID
	if m.SRO != nil && m.SRO.ID.Valid() {
		ref = m.SRO.ID
	}
	if !ref.Valid() {
		return 0, malformed(memberID, "missing sro")
	}
	id, err := ParseID(ref.String())
	if err != nil {
		return 0, malformed(memberID, "bad sro id %q", ref.String())
	}
	return id, nil
}

// ParseID parses a decimal ID, tolerating surrounding blanks and a float
// rendering with a zero fraction ("12.0").
func ParseID(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if id, err := strconv.ParseInt(s, 10, 64); err == nil {
		return id, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	id := int64(f)
	if float64(id) != f {
		return 0, strconv.ErrSyntax
	}
	return id, nil
}
