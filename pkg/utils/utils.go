package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// TicketReferencePrefix 工单编号前缀
const TicketReferencePrefix = "TD"

// 生成随机 ID
func GenerateID() string {
	bytes := make([]byte, 16)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

// TicketReference 由数据库 ID 生成对外工单编号，例如 TD-1042
func TicketReference(id uint) string {
	return fmt.Sprintf("%s-%d", TicketReferencePrefix, 1000+id)
}

// NormalizeReference 统一工单编号大小写与空白
func NormalizeReference(ref string) string {
	return strings.ToUpper(strings.TrimSpace(ref))
}

// ClampPage 规范化分页参数
func ClampPage(page, pageSize, maxPageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}
