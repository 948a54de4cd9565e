package auth

// GetPermissionModel 获取 OpenFGA 权限模型定义
// workflow 与 task 的能力授予在 <type>:global 对象上
func GetPermissionModel() string {
	return `model
  schema 1.1

type user

type group
  relations
    define member: [user]

type workflow
  relations
    define create: [user, group#member]
    define delete: [user, group#member] or create
    define add_to_page: [user, group#member]
    define remove_from_page: [user, group#member] or add_to_page

type task
  relations
    define create: [user, group#member]
    define delete: [user, group#member] or create`
}
