package services

import (
	"net/http"
	"path/filepath"
	"strings"
)

var imageTypesByExt = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// ImageContentType 确定上传图片的 Content-Type：
// 优先使用客户端声明的 image/*，其次按扩展名推断，最后嗅探文件头
func ImageContentType(filename, declared string, head []byte) string {
	declared = strings.ToLower(strings.TrimSpace(declared))
	if strings.HasPrefix(declared, "image/") {
		return declared
	}
	if ct, ok := imageTypesByExt[strings.ToLower(filepath.Ext(filename))]; ok {
		return ct
	}
	if len(head) > 0 {
		return http.DetectContentType(head)
	}
	return "application/octet-stream"
}
