package domain

import "errors"

var (
	// ErrNotFound 持久化存储中不存在该键
	ErrNotFound = errors.New("record not found")
	// ErrCorruptCart 持久化的购物车无法解析
	ErrCorruptCart = errors.New("corrupt cart payload")
	// ErrMissingItemID 商品既没有远端 ID 也没有本地 ID
	ErrMissingItemID = errors.New("item has no id")
	// ErrNegativePrice 商品单价为负
	ErrNegativePrice = errors.New("item price is negative")

	// ErrUserNotFound 未登录用户无法下单
	ErrUserNotFound = errors.New("user not found, please log in again")
	// ErrIncompleteShipping 收货信息不完整
	ErrIncompleteShipping = errors.New("please fill in all shipping fields")
	// ErrEmptyCart 购物车为空
	ErrEmptyCart = errors.New("cart is empty")
	// ErrCheckoutInProgress 重复提交
	ErrCheckoutInProgress = errors.New("checkout already in progress")
	// ErrOrderRejected 订单服务拒绝了订单
	ErrOrderRejected = errors.New("order rejected")
	// ErrNoUserID 登录信息中无法解析出用户 ID
	ErrNoUserID = errors.New("login data carries no user id")
)
