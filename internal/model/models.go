package model

// AllModels 需要建表的全部模型
func AllModels() []interface{} {
	return []interface{}{
		&Contract{},
		&Token{},
		&NftTransferEvent{},
		&FtBalance{},
		&NftBalance{},
		&FtApproval{},
		&NftApproval{},
		&OrderState{},
		&CancelEvent{},
		&BulkCancelEvent{},
		&NonceCancelEvent{},
		&UserCollection{},
		&JobExecution{},
	}
}
