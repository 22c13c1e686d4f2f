// Пакет capabilities — модель прав доступа на основе битовой маски.
// Каждая capability — отдельный бит (степень двойки), роль — именованное
// объединение битов из закрытого набора. Хранится всегда маска, а не роль:
// это позволяет в будущем давать пользователю индивидуальные права
// сверх ролевых.
package capabilities

// Capability — одно именованное право доступа (один бит маски).
type Capability uint64

// Биты прав доступа. Пары вида X / OwnX разделяют действия
// "над любым ресурсом" и "только над своим".
const (
	// CapGenerateAuthKeys — создание pre-auth ключей для любого пользователя.
	CapGenerateAuthKeys Capability = 1 << iota
	// CapGenerateOwnAuthKeys — создание pre-auth ключей только для себя.
	CapGenerateOwnAuthKeys
	// CapReadMachines — просмотр узлов сети.
	CapReadMachines
	// CapWriteMachines — регистрация и изменение узлов.
	CapWriteMachines
	// CapReadUsers — просмотр пользователей.
	CapReadUsers
	// CapWriteUsers — создание и изменение пользователей.
	CapWriteUsers
	// CapReadPolicy — просмотр ACL-политики.
	CapReadPolicy
	// CapWritePolicy — изменение ACL-политики.
	CapWritePolicy
	// CapReadNetwork — просмотр сетевых настроек (маршруты, DNS).
	CapReadNetwork
	// CapWriteNetwork — изменение сетевых настроек.
	CapWriteNetwork
	// CapUIAccess — доступ к веб-интерфейсу.
	CapUIAccess
)

// Role — имя роли из закрытого набора.
type Role string

// Роли в порядке убывания привилегий.
const (
	RoleOwner        Role = "owner"
	RoleAdmin        Role = "admin"
	RoleNetworkAdmin Role = "network_admin"
	RoleITAdmin      Role = "it_admin"
	RoleAuditor      Role = "auditor"
	RoleMember       Role = "member"
)

// allCapabilities — объединение всех битов (маска owner и admin).
const allCapabilities uint64 = uint64(CapGenerateAuthKeys |
	CapGenerateOwnAuthKeys |
	CapReadMachines |
	CapWriteMachines |
	CapReadUsers |
	CapWriteUsers |
	CapReadPolicy |
	CapWritePolicy |
	CapReadNetwork |
	CapWriteNetwork |
	CapUIAccess)

// roleMasks — тотальное отображение роль -> маска.
// member = 0: ни одного права, доступ только после повышения роли.
var roleMasks = map[Role]uint64{
	RoleOwner: allCapabilities,
	RoleAdmin: allCapabilities,
	RoleNetworkAdmin: uint64(CapGenerateAuthKeys |
		CapGenerateOwnAuthKeys |
		CapReadMachines |
		CapWriteMachines |
		CapReadUsers |
		CapReadPolicy |
		CapWritePolicy |
		CapReadNetwork |
		CapWriteNetwork |
		CapUIAccess),
	RoleITAdmin: uint64(CapGenerateAuthKeys |
		CapGenerateOwnAuthKeys |
		CapReadMachines |
		CapWriteMachines |
		CapReadUsers |
		CapWriteUsers |
		CapReadNetwork |
		CapUIAccess),
	RoleAuditor: uint64(CapGenerateOwnAuthKeys |
		CapReadMachines |
		CapReadUsers |
		CapReadPolicy |
		CapReadNetwork |
		CapUIAccess),
	RoleMember: 0,
}

// RoleMask возвращает битовую маску роли.
// Для неизвестной роли возвращает 0 (эквивалент member).
func RoleMask(r Role) uint64 {
	return roleMasks[r]
}

// OwnerMask возвращает полную маску владельца.
func OwnerMask() uint64 {
	return allCapabilities
}

// Has проверяет наличие права в маске. Чистая функция: (mask & c) != 0.
func Has(mask uint64, c Capability) bool {
	return mask&uint64(c) != 0
}

// ValidRole проверяет, является ли строка допустимой ролью.
func ValidRole(role string) bool {
	_, ok := roleMasks[Role(role)]
	return ok
}

// Roles возвращает список всех ролей в порядке убывания привилегий.
func Roles() []Role {
	return []Role{
		RoleOwner,
		RoleAdmin,
		RoleNetworkAdmin,
		RoleITAdmin,
		RoleAuditor,
		RoleMember,
	}
}
