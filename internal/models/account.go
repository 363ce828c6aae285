package models

// Account 用户账号
type Account struct {
	Email     string `json:"email" db:"email"`
	UserName  string `json:"user_name" db:"user_name"`
	Password  string `json:"-" db:"password"` // bcrypt 哈希
	VehicleID string `json:"vehicle_id" db:"vehicle_id"`
}

// UserVehicle 用户绑定的车辆
type UserVehicle struct {
	VehicleID   string `json:"vehicle_id" db:"vehicle_id"`
	VehicleName string `json:"name" db:"vehicle_name"`
}

// UserInfo 用户信息视图（含绑定车辆列表）
type UserInfo struct {
	Email    string        `json:"email"`
	UserName string        `json:"user_name"`
	Vehicles []UserVehicle `json:"vehicle_list"`
}
