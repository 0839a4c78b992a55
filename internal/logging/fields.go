package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// BinaryFields 提供 action + sha1 字段，存储链各层日志复用。
func BinaryFields(action, sha1 string) logrus.Fields {
	return logrus.Fields{
		"action": action,
		"sha1":   sha1,
	}
}

// RequestFields 提供 HTTP 请求级字段，供 API 访问日志复用。
func RequestFields(requestID, method, path string, status int) logrus.Fields {
	return logrus.Fields{
		"request_id": requestID,
		"method":     method,
		"path":       path,
		"status":     status,
	}
}
