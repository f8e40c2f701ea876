// Package domain 定义业务领域模型和核心业务规则。
// 领域模型是业务逻辑的核心，独立于外部依赖（数据库、HTTP等）。
package domain

// UserRole 定义用户角色类型
type UserRole string

// 角色注册表，进程启动即固定
const (
	UserRoleAdmin         UserRole = "admin"          // 系统管理员
	UserRoleEVMStaff      UserRole = "evm_staff"      // 厂商运营人员
	UserRoleDealerManager UserRole = "dealer_manager" // 经销商经理
	UserRoleDealerStaff   UserRole = "dealer_staff"   // 经销商销售
)

// IsValid 判断角色是否在注册表中
func (r UserRole) IsValid() bool {
	switch r {
	case UserRoleAdmin, UserRoleEVMStaff, UserRoleDealerManager, UserRoleDealerStaff:
		return true
	}
	return false
}

// User 表示当前请求的操作人，由访问令牌还原
type User struct {
	ID       int64    `json:"id"`
	Username string   `json:"username"`
	Role     UserRole `json:"role"`
	// DealerID 经销商账号所属经销商，厂商账号为 0
	DealerID int64 `json:"dealer_id"`
	IsActive bool  `json:"is_active"`
}


// IsManufacturer 厂商侧账号（管理员或厂商运营）
func (u *User) IsManufacturer() bool {
	return u.Role == UserRoleAdmin || u.Role == UserRoleEVMStaff
}

// CanActForDealer 厂商账号可操作任意经销商，经销商账号只能操作本经销商
func (u *User) CanActForDealer(dealerID int64) bool {
	if u.IsManufacturer() {
		return true
	}
	return u.DealerID != 0 && u.DealerID == dealerID
}
