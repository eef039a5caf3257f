package utils

import (
	"crypto/rand"
	"math/big"
)

const lowerAlnum = "abcdefghijklmnopqrstuvwxyz0123456789"

// RandomSuffix 返回 n 位 [a-z0-9] 随机串
func RandomSuffix(n int) string {
	b := make([]byte, n)
	max := big.NewInt(int64(len(lowerAlnum)))
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err)
		}
		b[i] = lowerAlnum[idx.Int64()]
	}
	return string(b)
}

// DeletedUsername 管理员清除用户名时使用的占位名
func DeletedUsername() string {
	return "DeletedName-" + RandomSuffix(5)
}
