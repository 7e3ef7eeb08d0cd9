package valueobject

type Role string

const (
	RoleShipper     Role = "shipper"
	RoleTransporter Role = "transporter"
	RoleAdmin       Role = "admin"
	// RoleSystem используется фоновыми процессами, пользователю не выдаётся.
	RoleSystem Role = "system"
)

// IsUserRole роли, которые может иметь учётная запись.
func (r Role) IsUserRole() bool {
	switch r {
	case RoleShipper, RoleTransporter, RoleAdmin:
		return true
	}
	return false
}

// IsActorRole роли, от имени которых выполняются переходы.
func (r Role) IsActorRole() bool {
	return r.IsUserRole() || r == RoleSystem
}

type VerificationLevel string

const (
	VerificationUnverified VerificationLevel = "unverified"
	VerificationPhone      VerificationLevel = "phone_verified"
	VerificationIdentity   VerificationLevel = "id_verified"
	VerificationBusiness   VerificationLevel = "business_verified"
)

// Rank порядковый номер уровня; -1 для неизвестного значения.
func (l VerificationLevel) Rank() int {
	switch l {
	case VerificationUnverified, "":
		return 0
	case VerificationPhone:
		return 1
	case VerificationIdentity:
		return 2
	case VerificationBusiness:
		return 3
	}
	return -1
}

func (l VerificationLevel) IsValid() bool {
	return l.Rank() >= 0
}
