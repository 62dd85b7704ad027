package repository

// Store 授权流程所需的组合存储（账户 + 车辆）
type Store struct {
	*AccountRepository
	*VehicleRepository
}

// NewStore 创建组合存储
func NewStore(db *DB) *Store {
	return &Store{
		AccountRepository: NewAccountRepository(db),
		VehicleRepository: NewVehicleRepository(db),
	}
}
